package irradiance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"solar-estimator/internal/site"
)

// Store persists resolved sample runs under an opaque key.
type Store interface {
	LoadSamples(ctx context.Context, key string) ([]Sample, bool, error)
	SaveSamples(ctx context.Context, key string, samples []Sample) error
}

// Cached serves previously resolved windows from a Store and falls back to
// the wrapped source on a miss. Store failures are logged, never returned.
type Cached struct {
	inner Source
	store Store
	log   *zap.Logger
}

// Fingerprinter is implemented by sources whose output depends on settings
// beyond their name. The fingerprint becomes part of the cache key.
type Fingerprinter interface {
	Fingerprint() string
}

// Settler is implemented by sources whose recent windows may still change.
// Unsettled windows pass through the cache without being stored.
type Settler interface {
	Settled(w Window) bool
}

func NewCached(inner Source, store Store, log *zap.Logger) *Cached {
	return &Cached{inner: inner, store: store, log: log}
}

func (c *Cached) Name() string { return "cached-" + c.inner.Name() }

func (c *Cached) Resolve(ctx context.Context, s site.Site, w Window, g Granularity) (Sequence, error) {
	if st, ok := c.inner.(Settler); ok && !st.Settled(w) {
		return c.inner.Resolve(ctx, s, w, g)
	}
	key := CacheKey(c.sourceID(), s, w, g)

	samples, ok, err := c.store.LoadSamples(ctx, key)
	switch {
	case err != nil:
		c.log.Warn("Irradiance cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		c.log.Debug("Irradiance cache hit", zap.String("key", key), zap.Int("samples", len(samples)))
		loc := s.Location()
		for i := range samples {
			samples[i].Timestamp = samples[i].Timestamp.In(loc)
		}
		return FromSlice(samples), nil
	}

	seq, err := c.inner.Resolve(ctx, s, w, g)
	if err != nil {
		return Sequence{}, err
	}
	samples = seq.Collect()
	if err := c.store.SaveSamples(ctx, key, samples); err != nil {
		c.log.Warn("Irradiance cache write failed", zap.String("key", key), zap.Error(err))
	}
	return FromSlice(samples), nil
}

func (c *Cached) sourceID() string {
	if f, ok := c.inner.(Fingerprinter); ok {
		return c.inner.Name() + "@" + f.Fingerprint()
	}
	return c.inner.Name()
}

// CacheKey identifies one resolved window of one source for one site.
func CacheKey(source string, s site.Site, w Window, g Granularity) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", source, s.Key(), w.Start.Unix(), w.End.Unix(), g)
}

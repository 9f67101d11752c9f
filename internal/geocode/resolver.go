package geocode

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"solar-estimator/internal/cache"
	"solar-estimator/internal/site"
	"solar-estimator/internal/upstream"
)

// Chain tries each resolver in order. It only falls through on not-found;
// any other failure stops the chain.
type Chain []site.Resolver

func (c Chain) Resolve(ctx context.Context, text string) (site.Coordinates, error) {
	for _, r := range c {
		coords, err := r.Resolve(ctx, text)
		if err == nil {
			return coords, nil
		}
		if !errors.Is(err, site.ErrAddressNotFound) {
			return site.Coordinates{}, err
		}
	}
	return site.Coordinates{}, site.ErrAddressNotFound
}

// Cached memoizes successful resolutions.
type Cached struct {
	inner site.Resolver
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(inner site.Resolver, c cache.Cache, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl, log: log}
}

func (c *Cached) Resolve(ctx context.Context, text string) (site.Coordinates, error) {
	key := cacheKey(text)
	if raw, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("Geocode cache read failed", zap.Error(err))
	} else if ok {
		var coords site.Coordinates
		if err := json.Unmarshal(raw, &coords); err == nil {
			return coords, nil
		}
	}

	coords, err := c.inner.Resolve(ctx, text)
	if err != nil {
		return site.Coordinates{}, err
	}

	raw, _ := json.Marshal(coords)
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.Warn("Geocode cache write failed", zap.Error(err))
	}
	return coords, nil
}

func cacheKey(text string) string {
	sum := sha1.Sum([]byte(canonical(text)))
	return "geocode:" + hex.EncodeToString(sum[:])
}

// Config selects and parameterizes the address resolver.
type Config struct {
	Provider string
	APIKey   string
	Language string
	Entries  []Entry
	CacheTTL time.Duration
}

// New builds the configured resolver. The gazetteer is always consulted first
// so the sample addresses resolve identically in every mode.
func New(cfg Config, httpClient *http.Client, c cache.Cache, log *zap.Logger) (site.Resolver, error) {
	entries := cfg.Entries
	if len(entries) == 0 {
		entries = DefaultEntries
	}
	gazetteer := NewGazetteer(entries)
	log.Debug("Gazetteer loaded", zap.Int("places", gazetteer.Len()))

	var remote site.Resolver
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gazetteer":
		return gazetteer, nil
	case "openmeteo", "open-meteo", "open_meteo":
		remote = NewOpenMeteo(upstream.NewClient("open-meteo-geocoding", httpClient, upstream.DefaultBackoff), cfg.Language)
	case "google":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("google geocoder requires an api key")
		}
		remote = NewGoogle(cfg.APIKey)
	default:
		return nil, fmt.Errorf("geocoder provider not supported: %s", cfg.Provider)
	}

	if c != nil {
		remote = NewCached(remote, c, cfg.CacheTTL, log)
	}
	return Chain{gazetteer, remote}, nil
}

package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/site"
	"solar-estimator/internal/storage"
	"solar-estimator/internal/yield"
)

type fakeEstimator struct {
	mu       sync.Mutex
	requests []estimator.Request
	fail     string
}

func (f *fakeEstimator) Estimate(_ context.Context, req estimator.Request) (*estimator.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.Site.Address == f.fail {
		return nil, apperrors.Upstream("weather", errors.New("unavailable"))
	}
	return &estimator.Result{Site: req.Site, TotalEnergy: 12.5, Granularity: req.Granularity}, nil
}

type fakeStore struct {
	mu          sync.Mutex
	saved       []string
	calibration map[string]float64
}

func (f *fakeStore) SaveEstimate(_ context.Context, res *estimator.Result, label string) (*storage.EstimateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, label)
	return &storage.EstimateRecord{ID: "id-" + label}, nil
}

func (f *fakeStore) GetLatestCalibration(_ context.Context, key string) (*storage.CalibrationRecord, error) {
	dev, ok := f.calibration[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &storage.CalibrationRecord{Deviation: dev}, nil
}

func (f *fakeStore) CleanOldEstimates(context.Context, time.Duration) (int64, error) { return 0, nil }

type fakePublisher struct {
	mu    sync.Mutex
	names []string
}

func (f *fakePublisher) Publish(name string, _ *estimator.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return nil
}

func targets() []Target {
	array := site.ArrayConfig{Panel: site.DefaultPanels[0], CapacityKW: 5, PerformanceRatio: 81}
	return []Target{
		{Name: "roof", Site: site.Site{Coordinates: site.Coordinates{Latitude: 21.037, Longitude: 105.781}, Address: "roof", Timezone: "UTC"}, Array: array},
		{Name: "factory", Site: site.Site{Coordinates: site.Coordinates{Latitude: 10.7769, Longitude: 106.6951}, Address: "factory", Timezone: "UTC"}, Array: array},
	}
}

func TestCollectOnce(t *testing.T) {
	est := &fakeEstimator{fail: "factory"}
	store := &fakeStore{calibration: map[string]float64{}}
	pub := &fakePublisher{}
	tg := targets()
	store.calibration[tg[0].Site.Key()] = -4

	core, logs := observer.New(zap.InfoLevel)
	c := NewCollector(CollectorConfig{Estimator: est, Store: store, Publisher: pub, Targets: tg, Enabled: true, Logger: zap.New(core)})
	now := time.Date(2026, 1, 14, 10, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	snaps := c.CollectOnce(context.Background())
	require.Len(t, snaps, 2)

	roof, ok := c.Latest("roof")
	require.True(t, ok)
	assert.Equal(t, "id-roof", roof.RecordID)
	assert.Equal(t, 12.5, roof.Result.TotalEnergy)
	assert.Empty(t, roof.Error)

	factory, ok := c.Latest("factory")
	require.True(t, ok)
	assert.Nil(t, factory.Result)
	assert.Contains(t, factory.Error, "unavailable")

	assert.Equal(t, []string{"roof"}, store.saved)
	assert.Equal(t, []string{"roof"}, pub.names)

	require.Len(t, est.requests, 2)
	for _, req := range est.requests {
		assert.Equal(t, irradiance.Hour, req.Granularity)
		assert.Equal(t, time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), req.Window.Start)
		assert.Equal(t, now, req.Reference)
		if req.Site.Address == "roof" {
			assert.Equal(t, yield.FixedDeviation(-4), req.Deviation)
		} else {
			assert.Nil(t, req.Deviation)
		}
	}

	all := c.LatestAll()
	require.Len(t, all, 2)
	assert.Equal(t, "factory", all[0].Name)

	assert.Equal(t, 1, logs.FilterMessage("Error estimating site").Len())
	assert.Equal(t, 1, logs.FilterMessage("Collected").Len())
}

func TestStart_DisabledOrEmpty(t *testing.T) {
	c := NewCollector(CollectorConfig{Estimator: &fakeEstimator{}, Targets: targets(), Logger: zap.NewNop()})
	require.NoError(t, c.Start())
	assert.False(t, c.IsCollecting())

	c = NewCollector(CollectorConfig{Estimator: &fakeEstimator{}, Enabled: true, Logger: zap.NewNop()})
	require.NoError(t, c.Start())
	assert.False(t, c.IsCollecting())
}

func TestStart_RunsImmediately(t *testing.T) {
	est := &fakeEstimator{}
	c := NewCollector(CollectorConfig{Estimator: est, Targets: targets(), Interval: time.Hour, Enabled: true, Logger: zap.NewNop()})
	require.NoError(t, c.Start())
	defer c.Stop()
	assert.True(t, c.IsCollecting())

	assert.Eventually(t, func() bool {
		_, ok := c.Latest("roof")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	assert.False(t, c.IsCollecting())
}

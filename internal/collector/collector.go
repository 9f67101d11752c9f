package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/site"
	"solar-estimator/internal/storage"
	"solar-estimator/internal/yield"
)

// Target is a tracked installation re-estimated on every run.
type Target struct {
	Name  string
	Site  site.Site
	Array site.ArrayConfig
}

type Estimator interface {
	Estimate(ctx context.Context, req estimator.Request) (*estimator.Result, error)
}

type Store interface {
	SaveEstimate(ctx context.Context, res *estimator.Result, label string) (*storage.EstimateRecord, error)
	GetLatestCalibration(ctx context.Context, siteKey string) (*storage.CalibrationRecord, error)
	CleanOldEstimates(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Publisher interface {
	Publish(name string, res *estimator.Result) error
}

// Snapshot is the latest outcome for one target.
type Snapshot struct {
	Name      string            `json:"name"`
	RecordID  string            `json:"record_id,omitempty"`
	Result    *estimator.Result `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type Collector struct {
	estimator Estimator
	store     Store
	publisher Publisher
	targets   []Target
	interval  time.Duration
	retention time.Duration
	timeout   time.Duration
	enabled   bool
	log       *zap.Logger
	now       func() time.Time

	scheduler *gocron.Scheduler

	mu           sync.RWMutex
	latest       map[string]Snapshot
	isCollecting bool
}

type CollectorConfig struct {
	Estimator Estimator
	Store     Store
	Publisher Publisher
	Targets   []Target
	Interval  time.Duration
	Retention time.Duration
	Timeout   time.Duration
	Enabled   bool
	Logger    *zap.Logger
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Collector{
		estimator: cfg.Estimator,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		targets:   cfg.Targets,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		timeout:   cfg.Timeout,
		enabled:   cfg.Enabled,
		log:       cfg.Logger,
		now:       time.Now,
		scheduler: gocron.NewScheduler(time.UTC),
		latest:    make(map[string]Snapshot),
	}
}

// Start schedules the periodic estimation job and the retention cleanup.
// The first run happens immediately.
func (c *Collector) Start() error {
	if !c.enabled {
		c.log.Info("Collector is disabled")
		return nil
	}
	if len(c.targets) == 0 {
		c.log.Info("Collector has no tracked sites; nothing to schedule")
		return nil
	}

	_, err := c.scheduler.Every(c.interval).SingletonMode().Do(func() {
		c.CollectOnce(context.Background())
	})
	if err != nil {
		return err
	}

	if c.retention > 0 && c.store != nil {
		_, err = c.scheduler.Every(1).Day().At("03:00").Do(c.cleanup)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.isCollecting = true
	c.mu.Unlock()

	c.log.Info("Starting collector", zap.Duration("interval", c.interval), zap.Int("sites", len(c.targets)))
	c.scheduler.StartAsync()
	return nil
}

// CollectOnce estimates every target concurrently and records the outcome.
func (c *Collector) CollectOnce(ctx context.Context) []Snapshot {
	snapshots := make([]Snapshot, len(c.targets))

	var wg sync.WaitGroup
	for i, target := range c.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshots[i] = c.collect(ctx, target)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	for _, s := range snapshots {
		c.latest[s.Name] = s
	}
	c.mu.Unlock()
	return snapshots
}

func (c *Collector) collect(ctx context.Context, target Target) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	snap := Snapshot{Name: target.Name, UpdatedAt: now.UTC()}

	req := estimator.Request{
		Site:        target.Site,
		Array:       target.Array,
		Window:      irradiance.DayWindow(now, target.Site.Location()),
		Granularity: irradiance.Hour,
		Reference:   now,
	}
	if c.store != nil {
		cal, err := c.store.GetLatestCalibration(ctx, target.Site.Key())
		switch {
		case err == nil:
			req.Deviation = yield.FixedDeviation(cal.Deviation)
		case !errors.Is(err, apperrors.ErrNotFound):
			c.log.Warn("Error loading calibration", zap.String("site", target.Name), zap.Error(err))
		}
	}

	res, err := c.estimator.Estimate(ctx, req)
	if err != nil {
		c.log.Error("Error estimating site", zap.String("site", target.Name), zap.Error(err))
		snap.Error = err.Error()
		return snap
	}
	snap.Result = res

	if c.store != nil {
		record, err := c.store.SaveEstimate(ctx, res, target.Name)
		if err != nil {
			c.log.Error("Error saving estimate", zap.String("site", target.Name), zap.Error(err))
		} else {
			snap.RecordID = record.ID
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(target.Name, res); err != nil {
			c.log.Warn("Error publishing to MQTT", zap.String("site", target.Name), zap.Error(err))
		}
	}

	c.log.Info("Collected",
		zap.String("site", target.Name),
		zap.Float64("energy_kwh", res.TotalEnergy),
		zap.Float64("savings", res.Savings.WindowSavings),
	)
	return snap
}

func (c *Collector) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	removed, err := c.store.CleanOldEstimates(ctx, c.retention)
	if err != nil {
		c.log.Error("Error cleaning old estimates", zap.Error(err))
		return
	}
	c.log.Info("Cleaned old estimates", zap.Int64("removed", removed))
}

func (c *Collector) Latest(name string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.latest[name]
	return s, ok
}

// LatestAll returns the latest snapshot of every target that ran, by name.
func (c *Collector) LatestAll() []Snapshot {
	c.mu.RLock()
	out := make([]Snapshot, 0, len(c.latest))
	for _, s := range c.latest {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}

func (c *Collector) Targets() []Target {
	return c.targets
}

func (c *Collector) Stop() {
	c.scheduler.Stop()

	c.mu.Lock()
	c.isCollecting = false
	c.mu.Unlock()
}

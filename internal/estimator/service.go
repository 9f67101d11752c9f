package estimator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/maintenance"
	"solar-estimator/internal/savings"
	"solar-estimator/internal/site"
	"solar-estimator/internal/yield"
)

type Config struct {
	Timeout      time.Duration
	HorizonYears int
	Tariff       savings.Tariff
	Savings      savings.Options
	Emissions    savings.Factors
	Maintenance  maintenance.Table
}

// Request is one estimation. Zero values fall back to the service defaults:
// the configured tariff and horizon, the window start as install date and
// the current time as reference.
type Request struct {
	Site         site.Site
	Array        site.ArrayConfig
	Window       irradiance.Window
	Granularity  irradiance.Granularity
	Tariff       *savings.Tariff
	HorizonYears int
	InstallDate  time.Time
	Reference    time.Time
	// Deviation overrides the calculator's efficiency deviation, e.g. with
	// a calibrated one.
	Deviation yield.Deviation
}

type Result struct {
	Site          site.Site              `json:"site"`
	Array         site.ArrayConfig       `json:"array"`
	PanelCount    int                    `json:"panel_count"`
	RequiredArea  float64                `json:"required_area_m2"`
	Window        irradiance.Window      `json:"window"`
	Granularity   irradiance.Granularity `json:"granularity"`
	Source        string                 `json:"source"`
	Irradiance    []irradiance.Sample    `json:"irradiance"`
	Yield         []yield.Sample         `json:"yield"`
	TotalEnergy   float64                `json:"total_energy_kwh"`
	Savings       savings.Projection     `json:"savings"`
	Emissions     savings.Emissions      `json:"emissions"`
	Maintenance   []maintenance.Event    `json:"maintenance"`
	DaysUntilNext *int                   `json:"days_until_next,omitempty"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

// Service wires the estimation pipeline: irradiance, yield, savings and the
// maintenance calendar. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	source irradiance.Source
	calc   *yield.Calculator
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func NewService(source irradiance.Source, calc *yield.Calculator, cfg Config, log *zap.Logger) *Service {
	if cfg.HorizonYears <= 0 {
		cfg.HorizonYears = 25
	}
	if len(cfg.Maintenance) == 0 {
		cfg.Maintenance = maintenance.DefaultTable
	}
	if cfg.Emissions == (savings.Factors{}) {
		cfg.Emissions = savings.DefaultFactors
	}
	return &Service{source: source, calc: calc, cfg: cfg, log: log, now: time.Now}
}

// SourceName reports the irradiance source in use.
func (s *Service) SourceName() string { return s.source.Name() }

// DefaultTariff is the tariff applied when a request carries none.
func (s *Service) DefaultTariff() savings.Tariff { return s.cfg.Tariff }

func (s *Service) Estimate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Site.Validate(); err != nil {
		return nil, err
	}
	if err := req.Array.Validate(); err != nil {
		return nil, err
	}
	if req.Granularity == "" {
		req.Granularity = irradiance.Hour
	}
	tariff := s.cfg.Tariff
	if req.Tariff != nil {
		tariff = *req.Tariff
	}
	horizon := req.HorizonYears
	if horizon == 0 {
		horizon = s.cfg.HorizonYears
	}

	samples, err := s.resolve(ctx, req.Site, req.Window, req.Granularity)
	if err != nil {
		return nil, err
	}

	calc := s.calc
	if req.Deviation != nil {
		calc = calc.WithDeviation(req.Deviation)
	}
	yields, err := calc.Compute(irradiance.FromSlice(samples), req.Array)
	if err != nil {
		return nil, err
	}

	projection, err := savings.Project(yields, tariff, horizon, s.cfg.Savings)
	if err != nil {
		return nil, err
	}
	total := yield.Total(yields)
	emissions, err := savings.AvoidedEmissions(total, s.cfg.Emissions)
	if err != nil {
		return nil, err
	}

	install := req.InstallDate
	if install.IsZero() {
		install = req.Window.Start
	}
	events, err := maintenance.Schedule(install.In(req.Site.Location()), s.cfg.Maintenance)
	if err != nil {
		return nil, err
	}
	ref := req.Reference
	if ref.IsZero() {
		ref = s.now()
	}

	res := &Result{
		Site:         req.Site,
		Array:        req.Array,
		PanelCount:   req.Array.PanelCount(),
		RequiredArea: req.Array.RequiredArea(),
		Window:       req.Window,
		Granularity:  req.Granularity,
		Source:       s.source.Name(),
		Irradiance:   samples,
		Yield:        yields,
		TotalEnergy:  total,
		Savings:      projection,
		Emissions:    emissions,
		Maintenance:  events,
		GeneratedAt:  s.now().UTC(),
	}
	if days, ok := maintenance.DaysUntilNext(events, ref.In(req.Site.Location())); ok {
		res.DaysUntilNext = &days
	}

	s.log.Debug("Estimate computed",
		zap.String("site", req.Site.Key()),
		zap.String("granularity", string(req.Granularity)),
		zap.Int("samples", len(samples)),
		zap.Float64("energy_kwh", total),
	)
	return res, nil
}

// Irradiance resolves the raw samples only.
func (s *Service) Irradiance(ctx context.Context, st site.Site, w irradiance.Window, g irradiance.Granularity) ([]irradiance.Sample, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return s.resolve(ctx, st, w, g)
}

// Schedule lays out the maintenance calendar with the configured table.
func (s *Service) Schedule(installDate time.Time) ([]maintenance.Event, error) {
	return maintenance.Schedule(installDate, s.cfg.Maintenance)
}

// Emissions converts energy into avoided CO2 with the configured factors.
func (s *Service) Emissions(energyKWh float64) (savings.Emissions, error) {
	return savings.AvoidedEmissions(energyKWh, s.cfg.Emissions)
}

func (s *Service) resolve(ctx context.Context, st site.Site, w irradiance.Window, g irradiance.Granularity) ([]irradiance.Sample, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	seq, err := s.source.Resolve(ctx, st, w, g)
	if err != nil {
		if ctx.Err() != nil && apperrors.Kind(err) == "internal" {
			return nil, apperrors.Upstream(s.source.Name(), err)
		}
		return nil, err
	}
	return seq.Collect(), nil
}

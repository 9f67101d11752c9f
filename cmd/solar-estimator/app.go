package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"solar-estimator/config"
	"solar-estimator/internal/cache"
	"solar-estimator/internal/collector"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/geocode"
	"solar-estimator/internal/inverter"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/modbus"
	"solar-estimator/internal/savings"
	"solar-estimator/internal/site"
	"solar-estimator/internal/storage"
	"solar-estimator/internal/upstream"
	"solar-estimator/internal/yield"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	catalog   *site.Catalog
	resolver  site.Resolver
	estimator *estimator.Service
	db        *storage.Database
	upstreams []*upstream.Client
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	panels := append(append([]site.PanelModel{}, site.DefaultPanels...), cfg.Panels...)
	catalog, err := site.NewCatalog(panels)
	if err != nil {
		return fmt.Errorf("failed to build panel catalog: %w", err)
	}
	a.catalog = catalog

	var geoCache cache.Cache = cache.NewMemory()
	if cfg.Geocoder.Redis.Enabled {
		r, err := cache.NewRedis(ctx, cfg.Geocoder.Redis.Addr, cfg.Geocoder.Redis.Password, cfg.Geocoder.Redis.DB, cfg.Geocoder.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		geoCache = r
		a.log.Info("Geocode cache on redis", zap.String("addr", cfg.Geocoder.Redis.Addr))
	}
	a.resolver, err = geocode.New(geocode.Config{
		Provider: cfg.Geocoder.Provider,
		APIKey:   cfg.Geocoder.APIKey,
		Language: cfg.Geocoder.Language,
		Entries:  cfg.Geocoder.Entries,
		CacheTTL: cfg.Geocoder.CacheTTL,
	}, nil, geoCache, a.log)
	if err != nil {
		return err
	}

	if cfg.Database.Enabled {
		db, err := storage.NewDatabase(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.log.Info("Database opened", zap.String("path", cfg.Database.Path))
	}

	source, err := a.source()
	if err != nil {
		return err
	}

	var deviation yield.Deviation = yield.NoDeviation{}
	if strings.EqualFold(cfg.Yield.Deviation, "seeded") {
		deviation = yield.SeededDeviation{Seed: cfg.Yield.Seed, Band: cfg.Yield.DeviationBand}
	}
	calc, err := yield.NewCalculator(cfg.Yield.Config, deviation)
	if err != nil {
		return err
	}

	a.estimator = estimator.NewService(source, calc, estimator.Config{
		Timeout:      cfg.Estimator.Timeout,
		HorizonYears: cfg.Savings.HorizonYears,
		Tariff:       cfg.Tariff,
		Savings:      savings.Options{DegradationPct: cfg.Savings.DegradationPct},
		Emissions:    cfg.Emissions,
		Maintenance:  cfg.Maintenance,
	}, a.log)
	return nil
}

func (a *app) source() (irradiance.Source, error) {
	var source irradiance.Source
	switch strings.ToLower(a.cfg.Irradiance.Source) {
	case "openmeteo", "open-meteo":
		source = irradiance.NewOpenMeteo(a.upstream("open-meteo", nil))
	default:
		gen, err := irradiance.NewSynthetic(a.cfg.Irradiance.Synthetic)
		if err != nil {
			return nil, err
		}
		source = gen
	}
	if a.cfg.Irradiance.Cache && a.db != nil {
		source = irradiance.NewCached(source, a.db, a.log)
	}
	return source, nil
}

// upstream builds a retrying client and records it for the health check.
func (a *app) upstream(name string, httpClient *http.Client) *upstream.Client {
	c := upstream.NewClient(name, httpClient, upstream.DefaultBackoff)
	a.upstreams = append(a.upstreams, c)
	return c
}

// array fills the missing fields from the array section.
func (a *app) array(model string, capacityKW, performanceRatio float64) (site.ArrayConfig, error) {
	if model == "" {
		model = a.cfg.Array.Model
	}
	if capacityKW == 0 {
		capacityKW = a.cfg.Array.CapacityKW
	}
	if performanceRatio == 0 {
		performanceRatio = a.cfg.Array.PerformanceRatio
	}
	panel, err := a.catalog.Lookup(model)
	if err != nil {
		return site.ArrayConfig{}, err
	}
	return site.NewArrayConfig(panel, capacityKW, performanceRatio)
}

// targets normalizes the tracked sites of the collector section.
func (a *app) targets(ctx context.Context) ([]collector.Target, error) {
	targets := make([]collector.Target, 0, len(a.cfg.Collector.Sites))
	for _, sc := range a.cfg.Collector.Sites {
		st, err := site.Normalize(ctx, site.Input{
			Address:   sc.Address,
			Latitude:  sc.Latitude,
			Longitude: sc.Longitude,
			RoofArea:  sc.RoofArea,
			Tilt:      sc.Tilt,
			Azimuth:   sc.Azimuth,
			Timezone:  sc.Timezone,
		}, a.resolver)
		if err != nil {
			return nil, fmt.Errorf("tracked site %s: %w", sc.Name, err)
		}
		array, err := a.array(sc.Model, sc.CapacityKW, sc.PerformanceRatio)
		if err != nil {
			return nil, fmt.Errorf("tracked site %s: %w", sc.Name, err)
		}
		targets = append(targets, collector.Target{Name: sc.Name, Site: st, Array: array})
	}
	return targets, nil
}

func (a *app) meter() (*inverter.Meter, *modbus.Client) {
	client := modbus.NewClient(a.cfg.Inverter.IP, a.cfg.Inverter.Port, a.cfg.Inverter.SlaveID, a.cfg.Inverter.Timeout)
	return inverter.NewMeter(client), client
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/irradiance"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&EstimateRecord{}, &IrradianceRecord{}, &CalibrationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

// SaveEstimate persists the result under a new ID.
func (d *Database) SaveEstimate(ctx context.Context, res *estimator.Result, label string) (*EstimateRecord, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode estimate: %w", err)
	}

	record := &EstimateRecord{
		ID:               uuid.NewString(),
		CreatedAt:        res.GeneratedAt,
		SiteKey:          res.Site.Key(),
		Label:            label,
		Address:          res.Site.Address,
		Latitude:         res.Site.Latitude,
		Longitude:        res.Site.Longitude,
		Tilt:             res.Site.Tilt,
		Azimuth:          res.Site.Azimuth,
		PanelModel:       res.Array.Panel.Name,
		CapacityKW:       res.Array.CapacityKW,
		PerformanceRatio: res.Array.PerformanceRatio,
		Granularity:      string(res.Granularity),
		WindowStart:      res.Window.Start,
		WindowEnd:        res.Window.End,
		Source:           res.Source,
		TotalEnergy:      res.TotalEnergy,
		WindowSavings:    res.Savings.WindowSavings,
		LifetimeSavings:  res.Savings.Total,
		Currency:         res.Savings.Currency,
		CO2Kg:            res.Emissions.CO2Kg,
		DaysUntilNext:    res.DaysUntilNext,
		Payload:          string(payload),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to save estimate: %w", err)
	}
	return record, nil
}

func (d *Database) GetEstimate(ctx context.Context, id string) (*EstimateRecord, *estimator.Result, error) {
	var record EstimateRecord
	result := d.db.WithContext(ctx).First(&record, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("estimate %s: %w", id, apperrors.ErrNotFound)
	}
	if result.Error != nil {
		return nil, nil, result.Error
	}

	var res estimator.Result
	if err := json.Unmarshal([]byte(record.Payload), &res); err != nil {
		return nil, nil, fmt.Errorf("failed to decode estimate %s: %w", id, err)
	}
	return &record, &res, nil
}

// ListEstimates returns the newest estimates first, optionally for one site.
func (d *Database) ListEstimates(ctx context.Context, siteKey string, limit int) ([]EstimateRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := d.db.WithContext(ctx).Omit("payload").Order("created_at desc").Limit(limit)
	if siteKey != "" {
		query = query.Where("site_key = ?", siteKey)
	}

	var records []EstimateRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetEstimatesByRange returns estimates created in [from, to), newest first,
// optionally for one site.
func (d *Database) GetEstimatesByRange(ctx context.Context, siteKey string, from, to time.Time) ([]EstimateRecord, error) {
	var records []EstimateRecord
	query := d.db.WithContext(ctx).Omit("payload").
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at desc")
	if siteKey != "" {
		query = query.Where("site_key = ?", siteKey)
	}
	result := query.Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

func (d *Database) GetSiteStats(ctx context.Context, siteKey string) (*SiteEnergyStats, error) {
	stats := SiteEnergyStats{SiteKey: siteKey}
	result := d.db.WithContext(ctx).Model(&EstimateRecord{}).
		Select("COUNT(*) AS estimates, COALESCE(MAX(total_energy), 0) AS max_energy, COALESCE(AVG(total_energy), 0) AS avg_energy, COALESCE(SUM(window_savings), 0) AS total_savings").
		Where("site_key = ?", siteKey).
		Scan(&stats)
	if result.Error != nil {
		return nil, result.Error
	}
	stats.SiteKey = siteKey
	return &stats, nil
}

// CleanOldEstimates deletes estimates created before now minus olderThan.
func (d *Database) CleanOldEstimates(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := d.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&EstimateRecord{})
	return result.RowsAffected, result.Error
}

// LoadSamples returns the cached samples stored under key in their original order.
func (d *Database) LoadSamples(ctx context.Context, key string) ([]irradiance.Sample, bool, error) {
	var records []IrradianceRecord
	if err := d.db.WithContext(ctx).Where("cache_key = ?", key).Order("position asc").Find(&records).Error; err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}

	samples := make([]irradiance.Sample, len(records))
	for i, r := range records {
		samples[i] = irradiance.Sample{
			Timestamp:   r.Timestamp,
			Irradiance:  r.Irradiance,
			Granularity: irradiance.Granularity(r.Granularity),
		}
	}
	return samples, true, nil
}

// SaveSamples replaces whatever is cached under key.
func (d *Database) SaveSamples(ctx context.Context, key string, samples []irradiance.Sample) error {
	records := make([]IrradianceRecord, len(samples))
	for i, s := range samples {
		records[i] = IrradianceRecord{
			CacheKey:    key,
			Position:    i,
			Timestamp:   s.Timestamp,
			Irradiance:  s.Irradiance,
			Granularity: string(s.Granularity),
		}
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cache_key = ?", key).Delete(&IrradianceRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 500).Error
	})
}

func (d *Database) SaveCalibration(ctx context.Context, record *CalibrationRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	return d.db.WithContext(ctx).Create(record).Error
}

func (d *Database) GetLatestCalibration(ctx context.Context, siteKey string) (*CalibrationRecord, error) {
	var record CalibrationRecord
	result := d.db.WithContext(ctx).Where("site_key = ?", siteKey).Order("timestamp desc").First(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("calibration for %s: %w", siteKey, apperrors.ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &record, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

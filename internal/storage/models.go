package storage

import (
	"time"
)

// EstimateRecord is the persisted summary of one estimate. The full result
// is kept as JSON in Payload.
type EstimateRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	SiteKey   string    `gorm:"index" json:"site_key"`
	Label     string    `json:"label,omitempty"`

	// Site
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Tilt      float64 `json:"tilt"`
	Azimuth   float64 `json:"azimuth"`

	// Array
	PanelModel       string  `json:"panel_model"`
	CapacityKW       float64 `json:"capacity_kw"`
	PerformanceRatio float64 `json:"performance_ratio_pct"`

	// Window
	Granularity string    `json:"granularity"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Source      string    `json:"source"`

	// Results
	TotalEnergy     float64 `json:"total_energy_kwh"`
	WindowSavings   float64 `json:"window_savings"`
	LifetimeSavings float64 `json:"lifetime_savings"`
	Currency        string  `json:"currency"`
	CO2Kg           float64 `json:"co2_kg"`
	DaysUntilNext   *int    `json:"days_until_next,omitempty"`

	Payload string `gorm:"type:text" json:"-"`
}

// IrradianceRecord is one cached irradiance sample. Samples of one resolved
// window share a CacheKey and keep their order in Position.
type IrradianceRecord struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	CacheKey    string    `gorm:"index:idx_irradiance_key_pos,priority:1;size:255" json:"cache_key"`
	Position    int       `gorm:"index:idx_irradiance_key_pos,priority:2" json:"position"`
	Timestamp   time.Time `json:"timestamp"`
	Irradiance  float64   `json:"irradiance_kwh_m2"`
	Granularity string    `json:"granularity"`
	CreatedAt   time.Time `json:"created_at"`
}

// CalibrationRecord stores an inverter reading and the efficiency deviation
// it implies for a site.
type CalibrationRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	SiteKey   string    `gorm:"index" json:"site_key"`

	// Inverter
	SerialNumber string  `json:"serial_number"`
	NominalPower float64 `json:"nominal_power_kw"`
	ActivePower  uint32  `json:"active_power_w"`
	RunningState string  `json:"running_state"`

	// Energy
	MeasuredEnergy float64 `json:"measured_energy_kwh"`
	ExpectedEnergy float64 `json:"expected_energy_kwh"`
	Deviation      float64 `json:"deviation_pct"`
}

// SiteEnergyStats aggregates stored estimates of one site.
type SiteEnergyStats struct {
	SiteKey      string  `json:"site_key"`
	Estimates    int64   `json:"estimates"`
	MaxEnergy    float64 `json:"max_energy_kwh"`
	AvgEnergy    float64 `json:"avg_energy_kwh"`
	TotalSavings float64 `json:"total_window_savings"`
}

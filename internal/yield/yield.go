package yield

import (
	"fmt"
	"math"
	"time"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/site"
)

const (
	// STCIrradiance is the standard test condition irradiance over one hour, kWh/m².
	STCIrradiance = 1.0

	DefaultLowLightLoss  = 0.15
	DefaultDeviationBand = 12.0
)

// Sample is the expected array output for one irradiance sample.
type Sample struct {
	Timestamp   time.Time              `json:"timestamp"`
	Energy      float64                `json:"energy_kwh"`
	Efficiency  float64                `json:"efficiency_pct"`
	Irradiance  float64                `json:"irradiance_kwh_m2"`
	Granularity irradiance.Granularity `json:"granularity"`
}

// Deviation supplies the efficiency offset, in percentage points, applied to
// the performance ratio for one sample.
type Deviation interface {
	At(ts time.Time) float64
}

// NoDeviation reports the performance ratio unchanged.
type NoDeviation struct{}

func (NoDeviation) At(time.Time) float64 { return 0 }

// FixedDeviation applies the same offset to every sample, typically one
// measured against a live inverter.
type FixedDeviation float64

func (d FixedDeviation) At(time.Time) float64 { return float64(d) }

// SeededDeviation draws a reproducible offset in [-Band, Band] per timestamp.
type SeededDeviation struct {
	Seed int64
	Band float64
}

func (d SeededDeviation) At(ts time.Time) float64 {
	return d.Band * irradiance.Noise(d.Seed, ts, "efficiency")
}

type Config struct {
	// LowLightLoss is the derate applied to a sample with no irradiance
	// relative to a clear-sky reference; it vanishes at the reference.
	LowLightLoss  float64 `mapstructure:"low_light_loss"`
	DeviationBand float64 `mapstructure:"deviation_band"`
}

func DefaultConfig() Config {
	return Config{LowLightLoss: DefaultLowLightLoss, DeviationBand: DefaultDeviationBand}
}

type Calculator struct {
	cfg       Config
	deviation Deviation
}

func NewCalculator(cfg Config, deviation Deviation) (*Calculator, error) {
	if err := apperrors.CheckRange("low_light_loss", cfg.LowLightLoss, 0, 1); err != nil {
		return nil, err
	}
	if err := apperrors.CheckRange("deviation_band", cfg.DeviationBand, 0, 50); err != nil {
		return nil, err
	}
	if deviation == nil {
		deviation = NoDeviation{}
	}
	return &Calculator{cfg: cfg, deviation: deviation}, nil
}

// WithDeviation returns a copy of the calculator using another deviation source.
func (c *Calculator) WithDeviation(d Deviation) *Calculator {
	if d == nil {
		d = NoDeviation{}
	}
	return &Calculator{cfg: c.cfg, deviation: d}
}

// Compute converts irradiance samples into expected output, one yield sample
// per input sample in the same order.
func (c *Calculator) Compute(samples irradiance.Sequence, array site.ArrayConfig) ([]Sample, error) {
	if err := array.Validate(); err != nil {
		return nil, err
	}

	out := make([]Sample, 0, samples.Len())
	for s := range samples.All() {
		y, err := c.sample(s, array)
		if err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, nil
}

func (c *Calculator) sample(s irradiance.Sample, array site.ArrayConfig) (Sample, error) {
	if math.IsNaN(s.Irradiance) || math.IsInf(s.Irradiance, 0) || s.Irradiance < 0 {
		return Sample{}, &apperrors.ComputationError{
			Op:     "yield",
			Detail: fmt.Sprintf("irradiance %v at %s", s.Irradiance, s.Timestamp.Format(time.RFC3339)),
		}
	}

	ratio := s.Irradiance / Reference(s)
	energy := s.Irradiance / STCIrradiance * array.CapacityKW * array.PerformanceRatio / 100 * c.Derate(ratio)
	energy = math.Min(math.Max(energy, 0), array.CapacityKW*s.Hours())

	dev := math.Max(-c.cfg.DeviationBand, math.Min(c.cfg.DeviationBand, c.deviation.At(s.Timestamp)))
	efficiency := math.Max(0, math.Min(100, array.PerformanceRatio+dev))

	if math.IsNaN(energy) || math.IsNaN(efficiency) {
		return Sample{}, &apperrors.ComputationError{Op: "yield", Detail: "non-finite output at " + s.Timestamp.Format(time.RFC3339)}
	}

	return Sample{
		Timestamp:   s.Timestamp,
		Energy:      energy,
		Efficiency:  efficiency,
		Irradiance:  s.Irradiance,
		Granularity: s.Granularity,
	}, nil
}

// Derate penalizes samples far below the clear-sky reference. ratio is the
// sample's irradiance relative to that reference.
func (c *Calculator) Derate(ratio float64) float64 {
	gap := 1 - math.Min(math.Max(ratio, 0), 1)
	return 1 - c.cfg.LowLightLoss*gap*gap
}

// Reference is the clear-sky irradiance a sample of this period would receive
// at standard test conditions: a full STC hour, or the integral of an STC
// noon peak over a day.
func Reference(s irradiance.Sample) float64 {
	switch s.Granularity {
	case irradiance.Day:
		return STCIrradiance * 24 / math.Pi
	case irradiance.Month:
		return STCIrradiance * 24 / math.Pi * s.Hours() / 24
	default:
		return STCIrradiance
	}
}

// Total sums the energy of the samples.
func Total(samples []Sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Energy
	}
	return sum
}

// MeasuredDeviation derives the efficiency offset that explains a measured
// output against the expected one, clamped to ±band.
func MeasuredDeviation(expectedKWh, actualKWh, performanceRatio, band float64) (FixedDeviation, error) {
	if expectedKWh <= 0 || math.IsNaN(expectedKWh) {
		return 0, apperrors.Invalid("expected_kwh", "must be positive, got %v", expectedKWh)
	}
	if actualKWh < 0 || math.IsNaN(actualKWh) {
		return 0, apperrors.Invalid("actual_kwh", "must not be negative, got %v", actualKWh)
	}
	dev := performanceRatio*actualKWh/expectedKWh - performanceRatio
	return FixedDeviation(math.Max(-band, math.Min(band, dev))), nil
}

// Hours is the length of the period the sample covers.
func (s Sample) Hours() float64 {
	return irradiance.Sample{Timestamp: s.Timestamp, Granularity: s.Granularity}.Hours()
}

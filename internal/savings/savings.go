package savings

import (
	"math"
	"time"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/yield"
)

const (
	hoursPerYear = 365 * 24

	DefaultDegradationPct = 0.5
	MaxHorizonYears       = 50
)

// Tariff prices grid energy displaced by the array.
type Tariff struct {
	RatePerKWh    float64 `json:"rate_per_kwh" mapstructure:"rate_per_kwh"`
	Currency      string  `json:"currency" mapstructure:"currency"`
	EscalationPct float64 `json:"escalation_pct" mapstructure:"escalation_pct"`
}

func (t Tariff) Validate() error {
	if !(t.RatePerKWh > 0) || math.IsInf(t.RatePerKWh, 0) {
		return apperrors.Invalid("rate_per_kwh", "must be positive")
	}
	return apperrors.CheckRange("escalation_pct", t.EscalationPct, -50, 100)
}

type Options struct {
	// DegradationPct is the yearly relative decline of panel output.
	DegradationPct float64 `mapstructure:"degradation_pct"`
}

// Point is one entry of the short-horizon series, aligned with a yield sample.
type Point struct {
	Timestamp  time.Time `json:"timestamp"`
	Energy     float64   `json:"energy_kwh"`
	Savings    float64   `json:"savings"`
	Cumulative float64   `json:"cumulative"`
}

// YearPoint is one year of the lifetime projection, year 0 being the first.
type YearPoint struct {
	Year       int     `json:"year"`
	Energy     float64 `json:"energy_kwh"`
	Rate       float64 `json:"rate_per_kwh"`
	Savings    float64 `json:"savings"`
	Cumulative float64 `json:"cumulative"`
}

type Projection struct {
	Currency      string      `json:"currency"`
	HorizonYears  int         `json:"horizon_years"`
	Series        []Point     `json:"series"`
	WindowEnergy  float64     `json:"window_energy_kwh"`
	WindowSavings float64     `json:"window_savings"`
	AnnualEnergy  float64     `json:"annual_energy_kwh"`
	Yearly        []YearPoint `json:"yearly"`
	Total         float64     `json:"total"`
}

// Project prices the yield samples and extrapolates them over the horizon.
// The samples are annualized by the time they cover; each later year loses
// the degradation share of output while the tariff escalates.
func Project(samples []yield.Sample, t Tariff, horizonYears int, opts Options) (Projection, error) {
	if len(samples) == 0 {
		return Projection{}, apperrors.Invalid("samples", "at least one yield sample is required")
	}
	if err := t.Validate(); err != nil {
		return Projection{}, err
	}
	if horizonYears < 1 || horizonYears > MaxHorizonYears {
		return Projection{}, &apperrors.OutOfRangeError{Field: "horizon_years", Value: float64(horizonYears), Min: 1, Max: MaxHorizonYears}
	}
	if err := apperrors.CheckRange("degradation_pct", opts.DegradationPct, 0, 100); err != nil {
		return Projection{}, err
	}

	p := Projection{
		Currency:     t.Currency,
		HorizonYears: horizonYears,
		Series:       make([]Point, len(samples)),
	}

	var covered float64
	for i, s := range samples {
		saving := s.Energy * t.RatePerKWh
		p.WindowEnergy += s.Energy
		p.WindowSavings += saving
		covered += s.Hours()
		p.Series[i] = Point{Timestamp: s.Timestamp, Energy: s.Energy, Savings: saving, Cumulative: p.WindowSavings}
	}
	p.AnnualEnergy = p.WindowEnergy * hoursPerYear / covered

	keep := 1 - opts.DegradationPct/100
	growth := 1 + t.EscalationPct/100
	p.Yearly = make([]YearPoint, horizonYears)
	for y := range horizonYears {
		energy := p.AnnualEnergy * math.Pow(keep, float64(y))
		rate := t.RatePerKWh * math.Pow(growth, float64(y))
		p.Total += energy * rate
		p.Yearly[y] = YearPoint{Year: y, Energy: energy, Rate: rate, Savings: energy * rate, Cumulative: p.Total}
	}

	if math.IsNaN(p.Total) || math.IsInf(p.Total, 0) {
		return Projection{}, &apperrors.ComputationError{Op: "savings", Detail: "non-finite lifetime total"}
	}
	return p, nil
}

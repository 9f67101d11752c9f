package savings

import (
	"fmt"
	"math"

	"solar-estimator/internal/apperrors"
)

// Factors converts displaced grid energy into avoided CO2 and everyday equivalents.
type Factors struct {
	GridKgPerKWh  float64 `mapstructure:"grid_kg_per_kwh" json:"grid_kg_per_kwh"`
	TreeKgPerYear float64 `mapstructure:"tree_kg_per_year" json:"tree_kg_per_year"`
	CarKgPerYear  float64 `mapstructure:"car_kg_per_year" json:"car_kg_per_year"`
	PhoneKgCharge float64 `mapstructure:"phone_kg_per_charge" json:"phone_kg_per_charge"`
}

// DefaultFactors uses the Vietnamese grid emission factor.
var DefaultFactors = Factors{
	GridKgPerKWh:  0.6766,
	TreeKgPerYear: 21.77,
	CarKgPerYear:  4600,
	PhoneKgCharge: 0.00822,
}

type Emissions struct {
	EnergyKWh float64           `json:"energy_kwh"`
	CO2Kg     float64           `json:"co2_from_kwh"`
	Trees     float64           `json:"equivalent_trees"`
	Cars      float64           `json:"equivalent_cars"`
	Phones    float64           `json:"equivalent_phones"`
	Messages  map[string]string `json:"messages"`
}

func AvoidedEmissions(energyKWh float64, f Factors) (Emissions, error) {
	if energyKWh < 0 || math.IsNaN(energyKWh) || math.IsInf(energyKWh, 0) {
		return Emissions{}, apperrors.Invalid("energy_kwh", "must be a non-negative number")
	}
	if f.GridKgPerKWh <= 0 || f.TreeKgPerYear <= 0 || f.CarKgPerYear <= 0 || f.PhoneKgCharge <= 0 {
		return Emissions{}, apperrors.Invalid("factors", "emission factors must be positive")
	}

	co2 := energyKWh * f.GridKgPerKWh
	e := Emissions{
		EnergyKWh: energyKWh,
		CO2Kg:     co2,
		Trees:     co2 / f.TreeKgPerYear,
		Cars:      co2 / f.CarKgPerYear,
		Phones:    co2 / f.PhoneKgCharge,
	}
	e.Messages = map[string]string{
		"co2":    fmt.Sprintf("Generating %.1f kWh avoids %.1f kg of CO2", energyKWh, co2),
		"trees":  fmt.Sprintf("Equivalent to %.1f trees absorbing CO2 for a year", e.Trees),
		"cars":   fmt.Sprintf("Equivalent to taking %.2f cars off the road for a year", e.Cars),
		"phones": fmt.Sprintf("Equivalent to charging %.0f smartphones", e.Phones),
	}
	return e, nil
}

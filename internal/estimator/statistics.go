package estimator

import (
	"context"
	"math"
	"time"

	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/site"
)

type DailyValue struct {
	Date       string  `json:"date"`
	Irradiance float64 `json:"gii_kwh_m2"`
	Energy     float64 `json:"energy_kwh"`
}

type MonthlyValue struct {
	Month      string  `json:"month"`
	Irradiance float64 `json:"gii_kwh_m2"`
	Energy     float64 `json:"energy_kwh"`
}

// Statistics summarizes one calendar year of daily estimates.
type Statistics struct {
	Year               int            `json:"year"`
	MaxDailyGII        float64        `json:"max_daily_gii"`
	MinDailyGII        float64        `json:"min_daily_gii"`
	YearlyTotalGII     float64        `json:"yearly_total_gii"`
	AverageDailyGII    float64        `json:"average_daily_gii"`
	MaxDailyEnergy     float64        `json:"max_daily_energy"`
	MinDailyEnergy     float64        `json:"min_daily_energy"`
	YearlyTotalEnergy  float64        `json:"yearly_total_energy"`
	AverageDailyEnergy float64        `json:"average_daily_energy"`
	DailyValues        []DailyValue   `json:"daily_values"`
	MonthlyValues      []MonthlyValue `json:"monthly_values"`
	SystemCapacity     float64        `json:"system_capacity"`
	PerformanceRatio   float64        `json:"performance_ratio"`
	ModuleEfficiency   float64        `json:"module_efficiency"`
}

func (s *Service) Statistics(ctx context.Context, st site.Site, array site.ArrayConfig, year int) (*Statistics, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if err := array.Validate(); err != nil {
		return nil, err
	}
	if year == 0 {
		year = s.now().In(st.Location()).Year()
	}

	samples, err := s.resolve(ctx, st, irradiance.YearWindow(year, st.Location()), irradiance.Day)
	if err != nil {
		return nil, err
	}
	yields, err := s.calc.Compute(irradiance.FromSlice(samples), array)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		Year:             year,
		MaxDailyGII:      math.Inf(-1),
		MinDailyGII:      math.Inf(1),
		MaxDailyEnergy:   math.Inf(-1),
		MinDailyEnergy:   math.Inf(1),
		DailyValues:      make([]DailyValue, len(samples)),
		SystemCapacity:   array.CapacityKW,
		PerformanceRatio: array.PerformanceRatio,
		ModuleEfficiency: array.Panel.Efficiency,
	}

	monthIndex := map[time.Month]int{}
	for i, sample := range samples {
		energy := yields[i].Energy
		stats.DailyValues[i] = DailyValue{Date: sample.Timestamp.Format(time.DateOnly), Irradiance: sample.Irradiance, Energy: energy}

		stats.MaxDailyGII = math.Max(stats.MaxDailyGII, sample.Irradiance)
		stats.MinDailyGII = math.Min(stats.MinDailyGII, sample.Irradiance)
		stats.MaxDailyEnergy = math.Max(stats.MaxDailyEnergy, energy)
		stats.MinDailyEnergy = math.Min(stats.MinDailyEnergy, energy)
		stats.YearlyTotalGII += sample.Irradiance
		stats.YearlyTotalEnergy += energy

		m := sample.Timestamp.Month()
		idx, ok := monthIndex[m]
		if !ok {
			idx = len(stats.MonthlyValues)
			monthIndex[m] = idx
			stats.MonthlyValues = append(stats.MonthlyValues, MonthlyValue{Month: sample.Timestamp.Format("2006-01")})
		}
		stats.MonthlyValues[idx].Irradiance += sample.Irradiance
		stats.MonthlyValues[idx].Energy += energy
	}

	n := float64(len(samples))
	stats.AverageDailyGII = stats.YearlyTotalGII / n
	stats.AverageDailyEnergy = stats.YearlyTotalEnergy / n
	return stats, nil
}

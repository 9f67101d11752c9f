package estimator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/maintenance"
	"solar-estimator/internal/savings"
	"solar-estimator/internal/site"
	"solar-estimator/internal/yield"
)

var (
	hanoi = site.Site{
		Coordinates: site.Coordinates{Latitude: 21.037, Longitude: 105.781},
		Tilt:        20,
		Azimuth:     180,
		Timezone:    "UTC",
	}
	array = site.ArrayConfig{Panel: site.DefaultPanels[0], CapacityKW: 10, PerformanceRatio: 81}
	day   = time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)
)

func newService(t *testing.T, source irradiance.Source) *Service {
	t.Helper()
	if source == nil {
		gen, err := irradiance.NewSynthetic(irradiance.SyntheticConfig{Seed: 1, NoiseAmplitude: 0.1})
		require.NoError(t, err)
		source = gen
	}
	calc, err := yield.NewCalculator(yield.DefaultConfig(), yield.SeededDeviation{Seed: 1, Band: 12})
	require.NoError(t, err)
	svc := NewService(source, calc, Config{
		Timeout: time.Second,
		Tariff:  savings.Tariff{RatePerKWh: 2500, Currency: "VND", EscalationPct: 3},
		Savings: savings.Options{DegradationPct: 0.5},
	}, zap.NewNop())
	svc.now = func() time.Time { return day }
	return svc
}

func TestEstimate_OneDayHourly(t *testing.T) {
	svc := newService(t, nil)
	res, err := svc.Estimate(context.Background(), Request{
		Site:        hanoi,
		Array:       array,
		Window:      irradiance.DayWindow(day, time.UTC),
		Granularity: irradiance.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, "synthetic", res.Source)
	require.Len(t, res.Irradiance, 24)
	require.Len(t, res.Yield, 24)
	require.Len(t, res.Savings.Series, 24)
	assert.Equal(t, 25, res.Savings.HorizonYears)
	assert.Equal(t, "VND", res.Savings.Currency)
	assert.Equal(t, 18, res.PanelCount)

	var total float64
	for i, y := range res.Yield {
		assert.True(t, y.Timestamp.Equal(res.Irradiance[i].Timestamp))
		assert.GreaterOrEqual(t, y.Energy, 0.0)
		assert.LessOrEqual(t, y.Energy, array.CapacityKW)
		total += y.Energy
	}
	assert.InDelta(t, total, res.TotalEnergy, 1e-9)
	assert.InDelta(t, total*2500, res.Savings.WindowSavings, 1e-6)
	assert.Positive(t, res.Savings.Total)
	assert.InDelta(t, total*savings.DefaultFactors.GridKgPerKWh, res.Emissions.CO2Kg, 1e-9)

	require.Len(t, res.Maintenance, 3)
	assert.Equal(t, time.Date(2026, 1, 17, 0, 0, 0, 0, time.UTC), res.Maintenance[0].Date)
	require.NotNil(t, res.DaysUntilNext)
	assert.Equal(t, 3, *res.DaysUntilNext)
}

func TestEstimate_RequestOverrides(t *testing.T) {
	svc := newService(t, nil)
	tariff := savings.Tariff{RatePerKWh: 0.2, Currency: "USD"}
	res, err := svc.Estimate(context.Background(), Request{
		Site:         hanoi,
		Array:        array,
		Window:       irradiance.YearWindow(2026, time.UTC),
		Granularity:  irradiance.Month,
		Tariff:       &tariff,
		HorizonYears: 10,
		InstallDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Reference:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Deviation:    yield.FixedDeviation(-5),
	})
	require.NoError(t, err)

	assert.Len(t, res.Irradiance, 12)
	assert.Equal(t, "USD", res.Savings.Currency)
	assert.Len(t, res.Savings.Yearly, 10)
	for _, y := range res.Yield {
		assert.Equal(t, 76.0, y.Efficiency)
	}
	assert.Nil(t, res.DaysUntilNext)
}

func TestEstimate_Validation(t *testing.T) {
	svc := newService(t, nil)

	bad := hanoi
	bad.Latitude = 120
	_, err := svc.Estimate(context.Background(), Request{Site: bad, Array: array, Window: irradiance.DayWindow(day, time.UTC)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Estimate(context.Background(), Request{Site: hanoi, Array: array, Window: irradiance.Window{Start: day, End: day}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	noPR := array
	noPR.PerformanceRatio = 0
	_, err = svc.Estimate(context.Background(), Request{Site: hanoi, Array: noPR, Window: irradiance.DayWindow(day, time.UTC)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

type slowSource struct{}

func (slowSource) Name() string { return "slow" }

func (slowSource) Resolve(ctx context.Context, _ site.Site, _ irradiance.Window, _ irradiance.Granularity) (irradiance.Sequence, error) {
	<-ctx.Done()
	return irradiance.Sequence{}, ctx.Err()
}

type failingSource struct{ err error }

func (f failingSource) Name() string { return "failing" }

func (f failingSource) Resolve(context.Context, site.Site, irradiance.Window, irradiance.Granularity) (irradiance.Sequence, error) {
	return irradiance.Sequence{}, f.err
}

func TestEstimate_UpstreamTimeout(t *testing.T) {
	svc := newService(t, slowSource{})
	svc.cfg.Timeout = 10 * time.Millisecond

	_, err := svc.Estimate(context.Background(), Request{Site: hanoi, Array: array, Window: irradiance.DayWindow(day, time.UTC)})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEstimate_PropagatesTypedErrors(t *testing.T) {
	svc := newService(t, failingSource{err: apperrors.Upstream("weather", errors.New("503"))})
	_, err := svc.Estimate(context.Background(), Request{Site: hanoi, Array: array, Window: irradiance.DayWindow(day, time.UTC)})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestSchedule_UsesConfiguredTable(t *testing.T) {
	svc := newService(t, nil)
	svc.cfg.Maintenance = maintenance.Table{{Category: maintenance.Routine, OffsetDays: 30, Duration: time.Hour, Impact: maintenance.Low}}
	events, err := svc.Schedule(day)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC), events[0].Date)
}

func TestStatistics(t *testing.T) {
	svc := newService(t, nil)
	stats, err := svc.Statistics(context.Background(), hanoi, array, 2026)
	require.NoError(t, err)

	require.Len(t, stats.DailyValues, 365)
	require.Len(t, stats.MonthlyValues, 12)
	assert.Equal(t, "2026-01-01", stats.DailyValues[0].Date)
	assert.Equal(t, "2026-12", stats.MonthlyValues[11].Month)

	var gii, energy float64
	for _, m := range stats.MonthlyValues {
		gii += m.Irradiance
		energy += m.Energy
	}
	assert.InDelta(t, stats.YearlyTotalGII, gii, 1e-6)
	assert.InDelta(t, stats.YearlyTotalEnergy, energy, 1e-6)
	assert.InDelta(t, stats.YearlyTotalGII/365, stats.AverageDailyGII, 1e-9)
	assert.LessOrEqual(t, stats.MinDailyGII, stats.AverageDailyGII)
	assert.GreaterOrEqual(t, stats.MaxDailyGII, stats.AverageDailyGII)
	assert.LessOrEqual(t, stats.MinDailyEnergy, stats.MaxDailyEnergy)
	assert.Equal(t, 10.0, stats.SystemCapacity)
	assert.Equal(t, 81.0, stats.PerformanceRatio)

	current, err := svc.Statistics(context.Background(), hanoi, array, 0)
	require.NoError(t, err)
	assert.Equal(t, 2026, current.Year)
}

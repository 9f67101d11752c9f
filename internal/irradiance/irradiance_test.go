package irradiance

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/site"
	"solar-estimator/internal/upstream"
)

var hanoi = site.Site{
	Coordinates: site.Coordinates{Latitude: 21.037, Longitude: 105.781},
	Tilt:        20,
	Azimuth:     180,
	Timezone:    "UTC",
}

func synthetic(t *testing.T, noise float64) *Synthetic {
	t.Helper()
	g, err := NewSynthetic(SyntheticConfig{Seed: 42, NoiseAmplitude: noise})
	require.NoError(t, err)
	return g
}

func TestSynthetic_HourlyDiurnalCurve(t *testing.T) {
	w := DayWindow(time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), time.UTC)
	seq, err := synthetic(t, 0).Resolve(context.Background(), hanoi, w, Hour)
	require.NoError(t, err)
	require.Equal(t, 24, seq.Len())

	samples := seq.Collect()
	for i, s := range samples {
		assert.Equal(t, i, s.Timestamp.Hour())
		assert.Equal(t, Hour, s.Granularity)
		if i > 0 {
			assert.True(t, s.Timestamp.After(samples[i-1].Timestamp))
		}
		if i <= 6 || i >= 18 {
			assert.Zero(t, s.Irradiance, "hour %d", i)
		} else {
			assert.Positive(t, s.Irradiance, "hour %d", i)
		}
	}
	for h := 7; h <= 12; h++ {
		assert.Greater(t, samples[h].Irradiance, samples[h-1].Irradiance, "rising at %d", h)
	}
	for h := 13; h <= 18; h++ {
		assert.Less(t, samples[h].Irradiance, samples[h-1].Irradiance, "falling at %d", h)
	}
	assert.InDelta(t, samples[11].Irradiance, samples[13].Irradiance, 1e-12)
}

func TestSynthetic_NoiseIsBounded(t *testing.T) {
	const amp = 0.2
	base := synthetic(t, 0)
	noisy := synthetic(t, amp)
	w := Window{Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)}

	clean, err := base.Resolve(context.Background(), hanoi, w, Hour)
	require.NoError(t, err)
	seq, err := noisy.Resolve(context.Background(), hanoi, w, Hour)
	require.NoError(t, err)
	require.Equal(t, 7*24, seq.Len())

	for i := 0; i < seq.Len(); i++ {
		want := clean.At(i).Irradiance
		got := seq.At(i).Irradiance
		assert.GreaterOrEqual(t, got, want*(1-amp)-1e-12)
		assert.LessOrEqual(t, got, want*(1+amp)+1e-12)
	}
}

func TestSynthetic_DeterministicAndRestartable(t *testing.T) {
	w := YearWindow(2026, time.UTC)
	seq, err := synthetic(t, 0.15).Resolve(context.Background(), hanoi, w, Day)
	require.NoError(t, err)

	first := seq.Collect()
	second := seq.Collect()
	assert.Equal(t, first, second)
	assert.Equal(t, first[200], seq.At(200))

	again, err := synthetic(t, 0.15).Resolve(context.Background(), hanoi, w, Day)
	require.NoError(t, err)
	assert.Equal(t, first, again.Collect())

	other, err := NewSynthetic(SyntheticConfig{Seed: 7, NoiseAmplitude: 0.15})
	require.NoError(t, err)
	diff, err := other.Resolve(context.Background(), hanoi, w, Day)
	require.NoError(t, err)
	assert.NotEqual(t, first, diff.Collect())
}

func TestSynthetic_MonthlyIsSumOfDays(t *testing.T) {
	g := synthetic(t, 0)
	w := YearWindow(2026, time.UTC)

	monthly, err := g.Resolve(context.Background(), hanoi, w, Month)
	require.NoError(t, err)
	require.Equal(t, 12, monthly.Len())
	daily, err := g.Resolve(context.Background(), hanoi, w, Day)
	require.NoError(t, err)
	require.Equal(t, 365, daily.Len())

	sums := make([]float64, 12)
	for s := range daily.All() {
		sums[s.Timestamp.Month()-1] += s.Irradiance
	}
	for i, s := range monthly.Collect() {
		assert.InDelta(t, sums[i], s.Irradiance, 1e-9, "month %d", i+1)
	}

	june, december := monthly.At(5).Irradiance, monthly.At(11).Irradiance
	assert.Greater(t, june, december)
}

func TestSynthetic_DailyIsIntegralOfHours(t *testing.T) {
	g := synthetic(t, 0)
	day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	daily, err := g.Resolve(context.Background(), hanoi, DayWindow(day, time.UTC), Day)
	require.NoError(t, err)
	require.Equal(t, 1, daily.Len())

	hourly, err := g.Resolve(context.Background(), hanoi, DayWindow(day, time.UTC), Hour)
	require.NoError(t, err)
	var sum float64
	for s := range hourly.All() {
		sum += s.Irradiance
	}
	// a Riemann sum over whole hours of the half sine
	assert.InEpsilon(t, daily.At(0).Irradiance, sum, 0.01)
}

func TestSynthetic_RejectsBadConfig(t *testing.T) {
	_, err := NewSynthetic(SyntheticConfig{NoiseAmplitude: 0.9})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	clearness := DefaultClearness
	clearness[3] = 1.5
	_, err = NewSynthetic(SyntheticConfig{Clearness: clearness})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestClearSkyPeak_Orientation(t *testing.T) {
	// northern hemisphere winter: south facing beats north facing
	south := ClearSkyPeak(21, 30, 180, 15)
	north := ClearSkyPeak(21, 30, 0, 15)
	assert.Greater(t, south, north)
	assert.Positive(t, north)

	assert.Zero(t, ClearSkyPeak(85, 20, 180, 355))
}

func TestTimeline_Counts(t *testing.T) {
	tests := []struct {
		name  string
		w     Window
		g     Granularity
		count int
	}{
		{"one day hourly", DayWindow(time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC), time.UTC), Hour, 24},
		{"partial hour rounds up", Window{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 1, 2, 30, 0, 0, time.UTC)}, Hour, 3},
		{"year daily", YearWindow(2024, time.UTC), Day, 366},
		{"year monthly", YearWindow(2026, time.UTC), Month, 12},
		{"quarter monthly", Window{Start: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)}, Month, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, err := NewTimeline(tt.w, tt.g, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.count, tl.Len())
			for i := 1; i < tl.Len(); i++ {
				assert.True(t, tl.At(i).After(tl.At(i-1)))
			}
		})
	}
}

func TestTimeline_MonthStepsClampDay(t *testing.T) {
	w := Window{Start: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)}
	tl, err := NewTimeline(w, Month, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), tl.At(1))
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), tl.At(2))
}

func TestTimeline_MidMonthStartCoversCalendarMonths(t *testing.T) {
	w := Window{Start: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)}
	seq, err := synthetic(t, 0).Resolve(context.Background(), hanoi, w, Month)
	require.NoError(t, err)
	require.Equal(t, 3, seq.Len())
	assert.Equal(t, 31*24.0, seq.At(0).Hours())
	assert.Equal(t, 28*24.0, seq.At(1).Hours())
	assert.Equal(t, 31*24.0, seq.At(2).Hours())

	aligned := Window{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	whole, err := synthetic(t, 0).Resolve(context.Background(), hanoi, aligned, Month)
	require.NoError(t, err)
	assert.InDelta(t, whole.At(0).Irradiance, seq.At(0).Irradiance, 1e-9, "January is summed whole either way")
}

func TestTimeline_DaylightSavingDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	w := DayWindow(time.Date(2025, 3, 9, 12, 0, 0, 0, ny), ny)

	tl, err := NewTimeline(w, Hour, ny)
	require.NoError(t, err)
	assert.Equal(t, 23, tl.Len())
}

func TestTimeline_InvalidWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := NewTimeline(Window{Start: start, End: start}, Hour, time.UTC)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = NewTimeline(Window{Start: start, End: start.Add(-time.Hour)}, Day, time.UTC)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = NewTimeline(Window{Start: start, End: start.AddDate(20, 0, 0)}, Hour, time.UTC)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = NewTimeline(Window{Start: start, End: start.AddDate(0, 0, 1)}, "weekly", time.UTC)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestTimeline_UsesSiteZone(t *testing.T) {
	hcm, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	s := hanoi
	s.Timezone = "Asia/Ho_Chi_Minh"

	w := DayWindow(time.Date(2026, 6, 1, 0, 0, 0, 0, hcm), hcm)
	seq, err := synthetic(t, 0).Resolve(context.Background(), s, w, Hour)
	require.NoError(t, err)
	require.Equal(t, 24, seq.Len())
	assert.Equal(t, 0, seq.At(0).Timestamp.Hour())
	assert.Positive(t, seq.At(12).Irradiance)
	assert.Zero(t, seq.At(3).Irradiance)
}

func TestParseGranularity(t *testing.T) {
	for in, want := range map[string]Granularity{"hourly": Hour, "Day": Day, " month ": Month, "h": Hour} {
		g, err := ParseGranularity(in)
		require.NoError(t, err)
		assert.Equal(t, want, g)
	}
	_, err := ParseGranularity("yearly")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSample_Hours(t *testing.T) {
	assert.Equal(t, 1.0, Sample{Granularity: Hour}.Hours())
	assert.Equal(t, 24.0, Sample{Granularity: Day}.Hours())
	feb := Sample{Timestamp: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), Granularity: Month}
	assert.Equal(t, 29*24.0, feb.Hours())
}

func TestNoise_Range(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var lo, hi float64
	for i := 0; i < 5000; i++ {
		n := Noise(99, start.Add(time.Duration(i)*time.Hour), "hour")
		require.GreaterOrEqual(t, n, -1.0)
		require.Less(t, n, 1.0)
		lo, hi = math.Min(lo, n), math.Max(hi, n)
	}
	assert.Less(t, lo, -0.9)
	assert.Greater(t, hi, 0.9)
}

func openMeteoServer(t *testing.T, gti func(ts time.Time) *float64, seen *url.URL) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = *r.URL
		from, _ := time.Parse(time.DateOnly, r.URL.Query().Get("start_date"))
		to, _ := time.Parse(time.DateOnly, r.URL.Query().Get("end_date"))

		var times []string
		var values []*float64
		for ts := from; ts.Before(to.AddDate(0, 0, 1)); ts = ts.Add(time.Hour) {
			times = append(times, ts.Format("2006-01-02T15:04"))
			values = append(values, gti(ts))
		}
		payload := map[string]any{
			"timezone": "GMT",
			"hourly": map[string]any{
				"time":                     times,
				"global_tilted_irradiance": values,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
}

func newTestOpenMeteo(url string) *OpenMeteo {
	o := NewOpenMeteo(upstream.NewClient("open-meteo", nil, upstream.BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	o.forecastURL = url
	o.archiveURL = url + "/archive"
	o.now = func() time.Time { return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) }
	return o
}

func TestOpenMeteo_Hourly(t *testing.T) {
	var seen url.URL
	srv := openMeteoServer(t, func(ts time.Time) *float64 {
		v := 100.0 * float64(ts.Hour())
		return &v
	}, &seen)
	defer srv.Close()

	o := newTestOpenMeteo(srv.URL)
	w := DayWindow(time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), time.UTC)
	seq, err := o.Resolve(context.Background(), hanoi, w, Hour)
	require.NoError(t, err)
	require.Equal(t, 24, seq.Len())
	assert.InDelta(t, 1.2, seq.At(12).Irradiance, 1e-9)

	q := seen.Query()
	assert.Equal(t, "global_tilted_irradiance", q.Get("hourly"))
	assert.Equal(t, "0.00", q.Get("azimuth"))
	assert.Equal(t, "20.00", q.Get("tilt"))
	assert.Equal(t, "2026-01-14", q.Get("start_date"))
	assert.Equal(t, "2026-01-14", q.Get("end_date"))
	assert.Equal(t, "/", seen.Path)
}

func TestOpenMeteo_DailyAggregatesHours(t *testing.T) {
	var seen url.URL
	srv := openMeteoServer(t, func(ts time.Time) *float64 {
		v := 250.0
		return &v
	}, &seen)
	defer srv.Close()

	o := newTestOpenMeteo(srv.URL)
	w := Window{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)}
	seq, err := o.Resolve(context.Background(), hanoi, w, Day)
	require.NoError(t, err)
	require.Equal(t, 3, seq.Len())
	for s := range seq.All() {
		assert.InDelta(t, 6.0, s.Irradiance, 1e-9)
	}
	assert.Equal(t, "/archive", seen.Path)
}

func TestOpenMeteo_MissingHourFails(t *testing.T) {
	var seen url.URL
	srv := openMeteoServer(t, func(ts time.Time) *float64 {
		if ts.Hour() == 13 {
			return nil
		}
		v := 10.0
		return &v
	}, &seen)
	defer srv.Close()

	o := newTestOpenMeteo(srv.URL)
	w := DayWindow(time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), time.UTC)
	_, err := o.Resolve(context.Background(), hanoi, w, Day)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestOpenMeteoAzimuth(t *testing.T) {
	for in, want := range map[float64]float64{180: 0, -180: 0, 90: -90, -90: 90, 0: -180, 135: -45} {
		assert.InDelta(t, want, openMeteoAzimuth(in), 1e-9, "azimuth %v", in)
	}
}

type memoryStore struct {
	data  map[string][]Sample
	saves int
}

func (m *memoryStore) LoadSamples(_ context.Context, key string) ([]Sample, bool, error) {
	s, ok := m.data[key]
	return append([]Sample(nil), s...), ok, nil
}

func (m *memoryStore) SaveSamples(_ context.Context, key string, samples []Sample) error {
	m.saves++
	m.data[key] = append([]Sample(nil), samples...)
	return nil
}

type countingSource struct {
	Source
	calls int
}

func (c *countingSource) Resolve(ctx context.Context, s site.Site, w Window, g Granularity) (Sequence, error) {
	c.calls++
	return c.Source.Resolve(ctx, s, w, g)
}

func TestCached_ServesRepeatWindowsFromStore(t *testing.T) {
	inner := &countingSource{Source: synthetic(t, 0.1)}
	store := &memoryStore{data: map[string][]Sample{}}
	c := NewCached(inner, store, zap.NewNop())
	assert.Equal(t, "cached-synthetic", c.Name())

	w := DayWindow(time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), time.UTC)
	first, err := c.Resolve(context.Background(), hanoi, w, Hour)
	require.NoError(t, err)
	second, err := c.Resolve(context.Background(), hanoi, w, Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, first.Collect(), second.Collect())

	_, err = c.Resolve(context.Background(), hanoi, w, Day)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestParseWindow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	now := time.Date(2026, 1, 14, 20, 0, 0, 0, time.UTC)

	w, err := ParseWindow("", "", "", loc, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, loc), w.Start, "20:00 UTC is already the next day in Hanoi")
	assert.Equal(t, 24*time.Hour, w.Duration())

	w, err = ParseWindow("2026-03-01", "", "", loc, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, loc), w.Start)

	w, err = ParseWindow("", "2026-01-01", "2026-01-31", loc, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), w.End)

	w, err = ParseWindow("", "2026-01-01T06:00:00+07:00", "2026-01-01T18:00:00+07:00", loc, now)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, w.Duration())

	for _, tc := range [][3]string{
		{"", "2026-01-01", ""},
		{"", "2026-02-01", "2026-01-01"},
		{"yesterday", "", ""},
		{"", "2026-01-01", "soon"},
	} {
		_, err := ParseWindow(tc[0], tc[1], tc[2], loc, now)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "%v", tc)
	}
}

func TestCached_KeysBySyntheticSettings(t *testing.T) {
	store := &memoryStore{data: map[string][]Sample{}}
	w := DayWindow(time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), time.UTC)

	gen := func(seed int64, noise float64) *Synthetic {
		g, err := NewSynthetic(SyntheticConfig{Seed: seed, NoiseAmplitude: noise})
		require.NoError(t, err)
		return g
	}
	resolve := func(src Source) []Sample {
		seq, err := src.Resolve(context.Background(), hanoi, w, Hour)
		require.NoError(t, err)
		return seq.Collect()
	}

	one := resolve(NewCached(gen(1, 0.1), store, zap.NewNop()))
	two := resolve(NewCached(gen(2, 0.1), store, zap.NewNop()))
	assert.Equal(t, 2, store.saves)
	assert.Len(t, store.data, 2)
	assert.Equal(t, resolve(gen(2, 0.1)), two, "second seed must not be served the first seed's samples")
	assert.NotEqual(t, one, two)

	assert.Equal(t, gen(1, 0.1).Fingerprint(), gen(1, 0.1).Fingerprint())
	assert.NotEqual(t, gen(1, 0.1).Fingerprint(), gen(1, 0.2).Fingerprint())
}

func TestCached_SkipsForecastWindows(t *testing.T) {
	var seen url.URL
	srv := openMeteoServer(t, func(ts time.Time) *float64 {
		v := 100.0
		return &v
	}, &seen)
	defer srv.Close()

	o := newTestOpenMeteo(srv.URL)
	store := &memoryStore{data: map[string][]Sample{}}
	c := NewCached(o, store, zap.NewNop())

	forecast := DayWindow(time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.False(t, o.Settled(forecast))
	_, err := c.Resolve(context.Background(), hanoi, forecast, Hour)
	require.NoError(t, err)
	assert.Zero(t, store.saves, "forecast windows are not stored")

	archived := DayWindow(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.True(t, o.Settled(archived))
	_, err = c.Resolve(context.Background(), hanoi, archived, Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "/archive", seen.Path)
}

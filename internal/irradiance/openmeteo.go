package irradiance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/site"
	"solar-estimator/internal/upstream"
)

const (
	openMeteoForecastURL = "https://api.open-meteo.com/v1/forecast"
	openMeteoArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"

	// the archive lags real time by a few days
	archiveLag = 5 * 24 * time.Hour
)

// OpenMeteo fetches measured and forecast global tilted irradiance from the
// Open-Meteo weather API.
type OpenMeteo struct {
	forecastURL string
	archiveURL  string
	client      *upstream.Client
	now         func() time.Time
}

func NewOpenMeteo(client *upstream.Client) *OpenMeteo {
	return &OpenMeteo{
		forecastURL: openMeteoForecastURL,
		archiveURL:  openMeteoArchiveURL,
		client:      client,
		now:         time.Now,
	}
}

type openMeteoResponse struct {
	Timezone string `json:"timezone"`
	Hourly   struct {
		Time []string   `json:"time"`
		GTI  []*float64 `json:"global_tilted_irradiance"`
	} `json:"hourly"`
}

func (o *OpenMeteo) Name() string { return "openmeteo" }

// Settled reports whether the window is served by the archive. Forecast
// windows are revised as new model runs arrive.
func (o *OpenMeteo) Settled(w Window) bool {
	return w.End.Before(o.now().Add(-archiveLag))
}

func (o *OpenMeteo) Resolve(ctx context.Context, s site.Site, w Window, g Granularity) (Sequence, error) {
	loc := s.Location()
	tl, err := NewTimeline(w, g, loc)
	if err != nil {
		return Sequence{}, err
	}

	first := periodStart(tl.At(0), g)
	last := periodEnd(tl.At(tl.Len()-1), g).Add(-time.Hour)

	hourly, err := o.fetch(ctx, s, first, last)
	if err != nil {
		return Sequence{}, err
	}

	samples := make([]Sample, tl.Len())
	for i := range samples {
		ts := tl.At(i)
		var total float64
		for h := periodStart(ts, g); h.Before(periodEnd(ts, g)); h = h.Add(time.Hour) {
			v, ok := hourly[h.Unix()]
			if !ok {
				return Sequence{}, apperrors.Upstream("open-meteo", fmt.Errorf("no irradiance for %s", h.Format("2006-01-02T15:04")))
			}
			total += v
		}
		samples[i] = Sample{Timestamp: ts, Irradiance: total, Granularity: g}
	}
	return FromSlice(samples), nil
}

// fetch returns hourly kWh/m² keyed by the unix time of the hour start.
func (o *OpenMeteo) fetch(ctx context.Context, s site.Site, from, to time.Time) (map[int64]float64, error) {
	base := o.forecastURL
	if to.Before(o.now().Add(-archiveLag)) {
		base = o.archiveURL
	}

	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.6f", s.Latitude))
	query.Set("longitude", fmt.Sprintf("%.6f", s.Longitude))
	query.Set("hourly", "global_tilted_irradiance")
	query.Set("tilt", fmt.Sprintf("%.2f", s.Tilt))
	query.Set("azimuth", fmt.Sprintf("%.2f", openMeteoAzimuth(s.Azimuth)))
	query.Set("timezone", s.Timezone)
	query.Set("start_date", from.Format(time.DateOnly))
	query.Set("end_date", to.Format(time.DateOnly))

	resp, err := o.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+query.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Upstream("open-meteo", fmt.Errorf("decode: %w", err))
	}
	if len(payload.Hourly.Time) != len(payload.Hourly.GTI) {
		return nil, apperrors.Upstream("open-meteo", fmt.Errorf("hourly series length mismatch: %d times, %d values",
			len(payload.Hourly.Time), len(payload.Hourly.GTI)))
	}

	loc := s.Location()
	out := make(map[int64]float64, len(payload.Hourly.Time))
	for i, raw := range payload.Hourly.Time {
		if payload.Hourly.GTI[i] == nil {
			continue
		}
		t, err := parseOpenMeteoTime(raw, loc)
		if err != nil {
			return nil, apperrors.Upstream("open-meteo", err)
		}
		// W/m² averaged over the hour equals Wh/m²
		out[t.Unix()] = math.Max(*payload.Hourly.GTI[i], 0) / 1000
	}
	return out, nil
}

func parseOpenMeteoTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04", value, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.RFC3339, strings.TrimSpace(value), loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", value)
}

// openMeteoAzimuth converts a compass azimuth (180 = south) to Open-Meteo's
// convention (0 = south, -90 = east, 90 = west).
func openMeteoAzimuth(az float64) float64 {
	v := math.Mod(az-180, 360)
	if v < -180 {
		v += 360
	} else if v > 180 {
		v -= 360
	}
	return v
}

// periodStart truncates ts to the start of its aggregation period.
func periodStart(ts time.Time, g Granularity) time.Time {
	switch g {
	case Day:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	case Month:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location())
	default:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, ts.Location())
	}
}

func periodEnd(ts time.Time, g Granularity) time.Time {
	start := periodStart(ts, g)
	switch g {
	case Day:
		return start.AddDate(0, 0, 1)
	case Month:
		return start.AddDate(0, 1, 0)
	default:
		return start.Add(time.Hour)
	}
}

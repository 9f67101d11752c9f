package irradiance

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/site"
)

const (
	// DaylightStart and DaylightEnd bound the hours with non-zero output.
	DaylightStart = 6.0
	DaylightEnd   = 18.0

	// beam irradiance at the top of the atmosphere, kW/m²
	solarConstant = 1.353
	diffuseShare  = 0.1
)

// DefaultClearness is the monthly clear-sky fraction, January first. Values
// follow the seasonal irradiation table of the demo dashboard.
var DefaultClearness = [12]float64{0.42, 0.48, 0.65, 0.72, 0.80, 0.85, 0.82, 0.78, 0.70, 0.60, 0.50, 0.45}

type SyntheticConfig struct {
	Seed int64 `mapstructure:"seed"`
	// NoiseAmplitude is the maximum relative deviation from the baseline.
	NoiseAmplitude float64     `mapstructure:"noise_amplitude"`
	Clearness      [12]float64 `mapstructure:"clearness"`
}

// Synthetic generates deterministic irradiance from solar geometry, a
// seasonal clearness curve and seeded noise. The same seed, site and window
// always yield the same samples.
type Synthetic struct {
	cfg SyntheticConfig
}

func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := apperrors.CheckRange("noise_amplitude", cfg.NoiseAmplitude, 0, 0.5); err != nil {
		return nil, err
	}
	if cfg.Clearness == ([12]float64{}) {
		cfg.Clearness = DefaultClearness
	}
	for i, c := range cfg.Clearness {
		if err := apperrors.CheckRange("clearness", c, 0, 1); err != nil {
			return nil, apperrors.Invalid("clearness", "month %d: %v", i+1, err)
		}
	}
	return &Synthetic{cfg: cfg}, nil
}

func (g *Synthetic) Name() string { return "synthetic" }

// Fingerprint hashes the seed, noise amplitude and clearness curve.
func (g *Synthetic) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%g|%v", g.cfg.Seed, g.cfg.NoiseAmplitude, g.cfg.Clearness)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (g *Synthetic) Resolve(ctx context.Context, s site.Site, w Window, gran Granularity) (Sequence, error) {
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}
	tl, err := NewTimeline(w, gran, s.Location())
	if err != nil {
		return Sequence{}, err
	}

	return NewSequence(tl.Len(), func(i int) Sample {
		ts := tl.At(i)
		return Sample{
			Timestamp:   ts,
			Irradiance:  g.value(s, ts, gran),
			Granularity: gran,
		}
	}), nil
}

func (g *Synthetic) value(s site.Site, ts time.Time, gran Granularity) float64 {
	var base float64
	switch gran {
	case Hour:
		base = g.Peak(s, ts) * DiurnalShape(ts)
	case Day:
		base = g.Peak(s, ts) * 24 / math.Pi
	case Month:
		first := time.Date(ts.Year(), ts.Month(), 1, 12, 0, 0, 0, ts.Location())
		for d := 0; d < daysIn(ts.Year(), ts.Month()); d++ {
			base += g.Peak(s, first.AddDate(0, 0, d)) * 24 / math.Pi
		}
	}
	if base == 0 {
		return 0
	}
	return base * (1 + g.cfg.NoiseAmplitude*Noise(g.cfg.Seed, ts, string(gran)))
}

// Peak is the plane-of-array irradiance at solar noon on the day of ts,
// in kW/m², scaled by the month's clearness.
func (g *Synthetic) Peak(s site.Site, ts time.Time) float64 {
	return ClearSkyPeak(s.Latitude, s.Tilt, s.Azimuth, ts.YearDay()) * g.cfg.Clearness[ts.Month()-1]
}

// ClearSkyPeak returns the clear-sky plane-of-array irradiance at solar noon
// in kW/m² for a panel with the given tilt and azimuth (180 = south).
func ClearSkyPeak(latitude, tilt, azimuth float64, dayOfYear int) float64 {
	decl := 23.45 * sinDeg(360.0/365.0*float64(284+dayOfYear))
	elevation := 90 - math.Abs(latitude-decl)
	if elevation <= 0 {
		return 0
	}

	sunAzimuth := 180.0
	if latitude < decl {
		sunAzimuth = 0
	}

	airMass := 1 / sinDeg(elevation)
	beam := solarConstant * math.Pow(0.7, math.Pow(airMass, 0.678))

	cosIncidence := sinDeg(elevation)*cosDeg(tilt) + cosDeg(elevation)*sinDeg(tilt)*cosDeg(sunAzimuth-azimuth)
	direct := beam * math.Max(cosIncidence, 0)
	diffuse := beam * diffuseShare * (1 + cosDeg(tilt)) / 2
	return direct + diffuse
}

// DiurnalShape is the fraction of the noon peak reached at the local time of
// ts: a half sine over the daylight band, zero outside it.
func DiurnalShape(ts time.Time) float64 {
	h := float64(ts.Hour()) + float64(ts.Minute())/60 + float64(ts.Second())/3600
	if h <= DaylightStart || h >= DaylightEnd {
		return 0
	}
	return math.Sin(math.Pi * (h - DaylightStart) / (DaylightEnd - DaylightStart))
}

// Noise maps (seed, ts, salt) to a value in [-1, 1]. It depends on nothing
// else, so any sample can be regenerated in isolation.
func Noise(seed int64, ts time.Time, salt string) float64 {
	x := uint64(seed) ^ uint64(ts.Unix())*0x9e3779b97f4a7c15
	for i := 0; i < len(salt); i++ {
		x = (x ^ uint64(salt[i])) * 0x100000001b3
	}
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return float64(x>>11)/float64(1<<53)*2 - 1
}

func sinDeg(d float64) float64 { return math.Sin(d * math.Pi / 180) }
func cosDeg(d float64) float64 { return math.Cos(d * math.Pi / 180) }

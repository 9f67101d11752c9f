package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-estimator/internal/geocode"
	"solar-estimator/internal/maintenance"
	"solar-estimator/internal/savings"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8045, cfg.API.Port)
	assert.Equal(t, "synthetic", cfg.Irradiance.Source)
	assert.Equal(t, int64(42), cfg.Irradiance.Synthetic.Seed)
	assert.Equal(t, 15*time.Minute, cfg.Collector.Interval)
	assert.Equal(t, savings.Tariff{RatePerKWh: 2500, Currency: "VND", EscalationPct: 3}, cfg.Tariff)
	assert.Equal(t, savings.DefaultFactors, cfg.Emissions)
	assert.Equal(t, maintenance.DefaultTable, cfg.Maintenance)
	assert.Equal(t, geocode.DefaultEntries, cfg.Geocoder.Entries)
	assert.Equal(t, 25, cfg.Savings.HorizonYears)
	assert.InDelta(t, 0.15, cfg.Yield.LowLightLoss, 1e-12)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9090
irradiance:
  source: openmeteo
  synthetic:
    noise_amplitude: 0.2
tariff:
  rate_per_kwh: 0.15
  currency: USD
maintenance:
  - category: routine
    offset_days: 30
    duration: 2h
    impact: low
  - category: critical
    offset_days: 365
    duration: 48h
    impact: high
collector:
  enabled: true
  interval: 1h
  sites:
    - name: office
      latitude: 21.037
      longitude: 105.781
      capacity_kw: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "openmeteo", cfg.Irradiance.Source)
	assert.InDelta(t, 0.2, cfg.Irradiance.Synthetic.NoiseAmplitude, 1e-12)
	assert.Equal(t, "USD", cfg.Tariff.Currency)
	require.Len(t, cfg.Maintenance, 2)
	assert.Equal(t, maintenance.Critical, cfg.Maintenance[1].Category)
	assert.Equal(t, 48*time.Hour, cfg.Maintenance[1].Duration)
	assert.Equal(t, time.Hour, cfg.Collector.Interval)
	require.Len(t, cfg.Collector.Sites, 1)
	require.NotNil(t, cfg.Collector.Sites[0].Latitude)
	assert.InDelta(t, 21.037, *cfg.Collector.Sites[0].Latitude, 1e-9)
	assert.Nil(t, cfg.Collector.Sites[0].Tilt)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SOLAR_API_PORT", "7000")
	t.Setenv("SOLAR_TARIFF_CURRENCY", "EUR")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.API.Port)
	assert.Equal(t, "EUR", cfg.Tariff.Currency)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"source":      "irradiance:\n  source: satellite\n",
		"deviation":   "yield:\n  deviation: random\n",
		"maintenance": "maintenance:\n  - category: routine\n    offset_days: -1\n    duration: 1h\n    impact: low\n",
		"site name":   "collector:\n  sites:\n    - latitude: 1\n      longitude: 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

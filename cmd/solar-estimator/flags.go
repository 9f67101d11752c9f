package main

import (
	"github.com/spf13/pflag"

	"solar-estimator/internal/savings"
	"solar-estimator/internal/site"
)

func changed(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}

func floatIfChanged(fs *pflag.FlagSet, name string, v float64) *float64 {
	if !changed(fs, name) {
		return nil
	}
	return &v
}

type siteFlags struct {
	fs        *pflag.FlagSet
	address   string
	latitude  float64
	longitude float64
	roofArea  float64
	tilt      float64
	azimuth   float64
	timezone  string
}

func newSiteFlags() *siteFlags {
	f := &siteFlags{fs: pflag.NewFlagSet("site", pflag.ContinueOnError)}
	f.fs.StringVar(&f.address, "address", "", "site address, resolved when no coordinates are given")
	f.fs.Float64Var(&f.latitude, "lat", 0, "site latitude in degrees")
	f.fs.Float64Var(&f.longitude, "lon", 0, "site longitude in degrees")
	f.fs.Float64Var(&f.roofArea, "roof-area", 0, "usable roof area in m²")
	f.fs.Float64Var(&f.tilt, "tilt", site.DefaultTilt, "panel tilt in degrees")
	f.fs.Float64Var(&f.azimuth, "azimuth", site.DefaultAzimuth, "panel azimuth in degrees")
	f.fs.StringVar(&f.timezone, "timezone", site.DefaultTimezone, "IANA time zone of the site")
	return f
}

func (f *siteFlags) input() site.Input {
	return site.Input{
		Address:   f.address,
		Latitude:  floatIfChanged(f.fs, "lat", f.latitude),
		Longitude: floatIfChanged(f.fs, "lon", f.longitude),
		RoofArea:  floatIfChanged(f.fs, "roof-area", f.roofArea),
		Tilt:      floatIfChanged(f.fs, "tilt", f.tilt),
		Azimuth:   floatIfChanged(f.fs, "azimuth", f.azimuth),
		Timezone:  f.timezone,
	}
}

type arrayFlags struct {
	fs               *pflag.FlagSet
	model            string
	capacityKW       float64
	performanceRatio float64
}

func newArrayFlags() *arrayFlags {
	f := &arrayFlags{fs: pflag.NewFlagSet("array", pflag.ContinueOnError)}
	f.fs.StringVar(&f.model, "model", "", "panel model from the catalog (default from config)")
	f.fs.Float64Var(&f.capacityKW, "capacity", 0, "installed capacity in kW (default from config)")
	f.fs.Float64Var(&f.performanceRatio, "pr", 0, "performance ratio in percent (default from config)")
	return f
}

type windowFlags struct {
	fs          *pflag.FlagSet
	date        string
	start       string
	end         string
	granularity string
}

func newWindowFlags() *windowFlags {
	f := &windowFlags{fs: pflag.NewFlagSet("window", pflag.ContinueOnError)}
	f.fs.StringVar(&f.date, "date", "", "day to estimate, YYYY-MM-DD (default today)")
	f.fs.StringVar(&f.start, "start", "", "window start, YYYY-MM-DD or RFC 3339")
	f.fs.StringVar(&f.end, "end", "", "window end, inclusive when a date")
	f.fs.StringVar(&f.granularity, "granularity", "hour", "hour, day or month")
	return f
}

type tariffFlags struct {
	fs         *pflag.FlagSet
	rate       float64
	currency   string
	escalation float64
	horizon    int
}

func newTariffFlags() *tariffFlags {
	f := &tariffFlags{fs: pflag.NewFlagSet("tariff", pflag.ContinueOnError)}
	f.fs.Float64Var(&f.rate, "rate", 0, "electricity price per kWh (default from config)")
	f.fs.StringVar(&f.currency, "currency", "", "ISO currency code (default from config)")
	f.fs.Float64Var(&f.escalation, "escalation", 0, "yearly tariff escalation in percent")
	f.fs.IntVar(&f.horizon, "horizon", 0, "projection horizon in years (default from config)")
	return f
}

// tariff applies the changed flags to base. Nil means none changed.
func (f *tariffFlags) tariff(base savings.Tariff) *savings.Tariff {
	if !changed(f.fs, "rate") && !changed(f.fs, "currency") && !changed(f.fs, "escalation") {
		return nil
	}
	t := base
	if changed(f.fs, "rate") {
		t.RatePerKWh = f.rate
	}
	if changed(f.fs, "currency") {
		t.Currency = f.currency
	}
	if changed(f.fs, "escalation") {
		t.EscalationPct = f.escalation
	}
	return &t
}

package site

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"solar-estimator/internal/apperrors"
)

type Technology string

const (
	TechnologyMono Technology = "mono"
	TechnologyPERC Technology = "perc"
)

// PanelModel is immutable reference data for one module type.
type PanelModel struct {
	Name         string     `json:"name" mapstructure:"name"`
	Manufacturer string     `json:"manufacturer" mapstructure:"manufacturer"`
	RatedPowerW  float64    `json:"rated_power_w" mapstructure:"rated_power_w"`
	RatedVoltage float64    `json:"rated_voltage_v" mapstructure:"rated_voltage_v"`
	Efficiency   float64    `json:"efficiency_pct" mapstructure:"efficiency_pct"`
	Technology   Technology `json:"technology" mapstructure:"technology"`
}

func (p PanelModel) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.Invalid("panel.name", "is required")
	}
	if p.RatedPowerW <= 0 || math.IsInf(p.RatedPowerW, 0) || p.RatedPowerW != p.RatedPowerW {
		return apperrors.Invalid("panel.rated_power_w", "must be positive")
	}
	switch p.Technology {
	case TechnologyMono, TechnologyPERC:
	default:
		return apperrors.Invalid("panel.technology", "unknown technology %q", p.Technology)
	}
	return nil
}

// DefaultPanels is the built-in module catalog.
var DefaultPanels = []PanelModel{
	{Name: "JAM72S30-545/MR", Manufacturer: "JA Solar", RatedPowerW: 545, RatedVoltage: 41.8, Efficiency: 21.1, Technology: TechnologyPERC},
	{Name: "LR5-72HPH-550M", Manufacturer: "LONGi", RatedPowerW: 550, RatedVoltage: 42.0, Efficiency: 21.5, Technology: TechnologyMono},
	{Name: "TSM-DE19-550", Manufacturer: "Trina Solar", RatedPowerW: 550, RatedVoltage: 31.6, Efficiency: 21.0, Technology: TechnologyMono},
	{Name: "CS6W-540MS", Manufacturer: "Canadian Solar", RatedPowerW: 540, RatedVoltage: 41.1, Efficiency: 20.9, Technology: TechnologyPERC},
	{Name: "JKM405M-54HL4", Manufacturer: "Jinko Solar", RatedPowerW: 405, RatedVoltage: 31.0, Efficiency: 20.7, Technology: TechnologyMono},
}

// Catalog looks up panel models by case-insensitive name.
type Catalog struct {
	panels map[string]PanelModel
}

func NewCatalog(panels []PanelModel) (*Catalog, error) {
	c := &Catalog{panels: make(map[string]PanelModel, len(panels))}
	for _, p := range panels {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("panel %q: %w", p.Name, err)
		}
		c.panels[strings.ToLower(p.Name)] = p
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (PanelModel, error) {
	p, ok := c.panels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return PanelModel{}, apperrors.Invalid("model", "unknown panel model %q", name)
	}
	return p, nil
}

// All returns the catalog sorted by name.
func (c *Catalog) All() []PanelModel {
	out := make([]PanelModel, 0, len(c.panels))
	for _, p := range c.panels {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ArrayConfig is the electrical configuration of an installation.
type ArrayConfig struct {
	Panel            PanelModel `json:"panel"`
	CapacityKW       float64    `json:"capacity_kw"`
	PerformanceRatio float64    `json:"performance_ratio_pct"`
}

func NewArrayConfig(panel PanelModel, capacityKW, performanceRatio float64) (ArrayConfig, error) {
	a := ArrayConfig{Panel: panel, CapacityKW: capacityKW, PerformanceRatio: performanceRatio}
	if err := a.Validate(); err != nil {
		return ArrayConfig{}, err
	}
	return a, nil
}

func (a ArrayConfig) Validate() error {
	if err := a.Panel.Validate(); err != nil {
		return err
	}
	if a.CapacityKW <= 0 || math.IsInf(a.CapacityKW, 0) || a.CapacityKW != a.CapacityKW {
		return apperrors.Invalid("capacity_kw", "must be positive")
	}
	if a.PerformanceRatio <= 0 || a.PerformanceRatio > 100 || a.PerformanceRatio != a.PerformanceRatio {
		return &apperrors.OutOfRangeError{Field: "performance_ratio", Value: a.PerformanceRatio, Min: 0, Max: 100}
	}
	return nil
}

// PanelCount is the number of modules needed to reach the installed capacity.
func (a ArrayConfig) PanelCount() int {
	return int(math.Round(a.CapacityKW * 1000 / a.Panel.RatedPowerW))
}

// RequiredArea estimates the module area in m² from panel efficiency at STC (1000 W/m²).
func (a ArrayConfig) RequiredArea() float64 {
	if a.Panel.Efficiency <= 0 {
		return 0
	}
	return a.CapacityKW * 1000 / (1000 * a.Panel.Efficiency / 100)
}

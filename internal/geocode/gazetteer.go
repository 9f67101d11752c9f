package geocode

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"solar-estimator/internal/site"
)

// Entry is one known address of the gazetteer.
type Entry struct {
	Address   string  `mapstructure:"address" json:"address"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude"`
	Longitude float64 `mapstructure:"longitude" json:"longitude"`
}

// DefaultEntries are the sample addresses offered by the address form.
var DefaultEntries = []Entry{
	{Address: "Số 12, ngõ 88, phố Trần Quang Diệu", Latitude: 21.015120, Longitude: 105.823890},
	{Address: "VNU University of Engineering and Technology", Latitude: 21.038240, Longitude: 105.782710},
	{Address: "Trường Đại học Sư phạm Hà Nội", Latitude: 21.039398, Longitude: 105.783216},
	{Address: "65 P. Trần Quang Diệu", Latitude: 21.014878, Longitude: 105.824247},
	{Address: "KEPCO-KPS IPP3", Latitude: 10.776900, Longitude: 106.695100},
	{Address: "Số 1, Đại Cồ Việt", Latitude: 21.007030, Longitude: 105.843130},
	{Address: "Số 144, Xuân Thủy", Latitude: 21.036980, Longitude: 105.782220},
}

// Gazetteer resolves addresses by exact match against a fixed list. Matching
// ignores case, surrounding whitespace and Unicode composition form.
type Gazetteer struct {
	entries map[string]site.Coordinates
}

func NewGazetteer(entries []Entry) *Gazetteer {
	g := &Gazetteer{entries: make(map[string]site.Coordinates, len(entries))}
	for _, e := range entries {
		g.entries[canonical(e.Address)] = site.Coordinates{Latitude: e.Latitude, Longitude: e.Longitude}
	}
	return g
}

func (g *Gazetteer) Resolve(_ context.Context, text string) (site.Coordinates, error) {
	c, ok := g.entries[canonical(text)]
	if !ok {
		return site.Coordinates{}, site.ErrAddressNotFound
	}
	return c, nil
}

func (g *Gazetteer) Len() int { return len(g.entries) }

func canonical(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

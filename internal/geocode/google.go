package geocode

import (
	"context"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/site"
)

// the geocoder package keeps its key in a package variable
var googleKeyMu sync.Mutex

// Google resolves addresses with the Google Geocoding API.
type Google struct {
	apiKey string
	lookup func(geocoder.Address) (geocoder.Location, error)
}

func NewGoogle(apiKey string) *Google {
	return &Google{apiKey: apiKey, lookup: geocoder.Geocoding}
}

func (g *Google) Resolve(ctx context.Context, text string) (site.Coordinates, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return site.Coordinates{}, site.ErrAddressNotFound
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		googleKeyMu.Lock()
		geocoder.ApiKey = g.apiKey
		loc, err := g.lookup(geocoder.Address{Street: text})
		googleKeyMu.Unlock()
		done <- result{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return site.Coordinates{}, apperrors.Upstream("google-geocoder", ctx.Err())
	case r := <-done:
		if r.err != nil {
			if strings.Contains(strings.ToUpper(r.err.Error()), "ZERO_RESULTS") {
				return site.Coordinates{}, site.ErrAddressNotFound
			}
			return site.Coordinates{}, apperrors.Upstream("google-geocoder", r.err)
		}
		return site.Coordinates{Latitude: r.loc.Latitude, Longitude: r.loc.Longitude}, nil
	}
}

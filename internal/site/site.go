package site

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"solar-estimator/internal/apperrors"
)

const (
	DefaultTilt     = 20.0
	DefaultAzimuth  = 180.0
	DefaultTimezone = "Asia/Ho_Chi_Minh"
)

// ErrAddressNotFound is returned by a Resolver when the text matches nothing.
var ErrAddressNotFound = errors.New("address not found")

// Resolver turns free text into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, text string) (Coordinates, error)
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Site is the canonical, validated description of an installation location.
type Site struct {
	Coordinates
	Address  string  `json:"address,omitempty"`
	RoofArea float64 `json:"roof_area_m2"`
	Tilt     float64 `json:"tilt"`
	Azimuth  float64 `json:"azimuth"`
	Timezone string  `json:"timezone"`
}

// Input is the raw, user-supplied site description. Nil numbers mean "not given".
type Input struct {
	Address   string   `json:"address,omitempty" form:"address"`
	Latitude  *float64 `json:"latitude,omitempty" form:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" form:"longitude"`
	RoofArea  *float64 `json:"roof_area_m2,omitempty" form:"roof_area"`
	Tilt      *float64 `json:"tilt,omitempty" form:"tilt"`
	Azimuth   *float64 `json:"azimuth,omitempty" form:"azimuth"`
	Timezone  string   `json:"timezone,omitempty" form:"timezone"`
}

// Normalize validates raw input and produces a canonical Site. Coordinates win over
// the address; the address is only resolved when no coordinates were supplied.
func Normalize(ctx context.Context, in Input, resolver Resolver) (Site, error) {
	s := Site{
		Address:  strings.TrimSpace(in.Address),
		Tilt:     DefaultTilt,
		Azimuth:  DefaultAzimuth,
		Timezone: strings.TrimSpace(in.Timezone),
	}
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}

	switch {
	case in.Latitude != nil && in.Longitude != nil:
		s.Latitude, s.Longitude = *in.Latitude, *in.Longitude
	case in.Latitude != nil || in.Longitude != nil:
		return Site{}, apperrors.Invalid("coordinates", "latitude and longitude must be given together")
	case s.Address != "":
		if resolver == nil {
			return Site{}, &apperrors.UnresolvedAddressError{Address: s.Address}
		}
		c, err := resolver.Resolve(ctx, s.Address)
		if err != nil {
			if errors.Is(err, ErrAddressNotFound) {
				return Site{}, &apperrors.UnresolvedAddressError{Address: s.Address}
			}
			return Site{}, apperrors.Upstream("geocoder", err)
		}
		s.Coordinates = c
	default:
		return Site{}, apperrors.Invalid("site", "either coordinates or an address is required")
	}

	if in.Tilt != nil {
		s.Tilt = *in.Tilt
	}
	if in.Azimuth != nil {
		s.Azimuth = *in.Azimuth
	}
	if in.RoofArea != nil {
		s.RoofArea = *in.RoofArea
	}

	if err := s.Validate(); err != nil {
		return Site{}, err
	}

	s.Latitude = round(s.Latitude, 1e6)
	s.Longitude = round(s.Longitude, 1e6)
	s.Tilt = round(s.Tilt, 1e2)
	s.Azimuth = round(s.Azimuth, 1e2)
	s.RoofArea = round(s.RoofArea, 1e2)
	return s, nil
}

// Validate checks the domain bounds of every field.
func (s Site) Validate() error {
	if err := apperrors.CheckRange("latitude", s.Latitude, -90, 90); err != nil {
		return err
	}
	if err := apperrors.CheckRange("longitude", s.Longitude, -180, 180); err != nil {
		return err
	}
	if err := apperrors.CheckRange("tilt", s.Tilt, 0, 90); err != nil {
		return err
	}
	if err := apperrors.CheckRange("azimuth", s.Azimuth, -180, 180); err != nil {
		return err
	}
	if err := apperrors.CheckRange("roof_area", s.RoofArea, 0, math.MaxFloat64); err != nil {
		return err
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return apperrors.Invalid("timezone", "unknown timezone %q", s.Timezone)
	}
	return nil
}

// Location returns the site's time zone. Normalized sites always carry a loadable one.
func (s Site) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Key identifies the site for caching and storage.
func (s Site) Key() string {
	return fmt.Sprintf("%.6f,%.6f,%.2f,%.2f,%s", s.Latitude, s.Longitude, s.Tilt, s.Azimuth, s.Timezone)
}

// Input converts a normalized Site back into raw form. Normalizing the result
// yields the same Site.
func (s Site) Input() Input {
	lat, lon := s.Latitude, s.Longitude
	tilt, az, area := s.Tilt, s.Azimuth, s.RoofArea
	return Input{
		Address:   s.Address,
		Latitude:  &lat,
		Longitude: &lon,
		RoofArea:  &area,
		Tilt:      &tilt,
		Azimuth:   &az,
		Timezone:  s.Timezone,
	}
}

func round(v, scale float64) float64 {
	return math.Round(v*scale) / scale
}

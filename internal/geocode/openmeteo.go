package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"solar-estimator/internal/site"
	"solar-estimator/internal/upstream"
)

const openMeteoGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

// OpenMeteo resolves place names with the Open-Meteo geocoding API.
type OpenMeteo struct {
	baseURL  string
	language string
	client   *upstream.Client
}

func NewOpenMeteo(client *upstream.Client, language string) *OpenMeteo {
	if language == "" {
		language = "en"
	}
	return &OpenMeteo{baseURL: openMeteoGeocodingURL, language: language, client: client}
}

type openMeteoGeoResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

func (o *OpenMeteo) Resolve(ctx context.Context, text string) (site.Coordinates, error) {
	name := strings.TrimSpace(text)
	if name == "" {
		return site.Coordinates{}, site.ErrAddressNotFound
	}

	query := url.Values{}
	query.Set("name", name)
	query.Set("count", "1")
	query.Set("language", o.language)
	query.Set("format", "json")

	resp, err := o.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+query.Encode(), nil)
	})
	if err != nil {
		return site.Coordinates{}, err
	}
	defer resp.Body.Close()

	var payload openMeteoGeoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return site.Coordinates{}, fmt.Errorf("open-meteo geocoding decode: %w", err)
	}
	if len(payload.Results) == 0 {
		return site.Coordinates{}, site.ErrAddressNotFound
	}

	return site.Coordinates{
		Latitude:  payload.Results[0].Latitude,
		Longitude: payload.Results[0].Longitude,
	}, nil
}

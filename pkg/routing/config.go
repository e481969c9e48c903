// Package routing fetches road geometry and geocodes addresses through
// OpenRouteService.
package routing

import (
	"context"
	"strconv"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/util"
)

const (
	defaultBaseURL           = "https://api.openrouteservice.org"
	defaultProfile           = "driving-car"
	defaultRequestsPerMinute = 40
)

type Router interface {
	Route(ctx context.Context, coordinates [][]float64) (*model.Route, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) ([]float64, error)
}

type Config struct {
	APIKey            string
	BaseURL           string
	Profile           string
	Country           string
	RequestsPerMinute int
}

// GetConfig reads the PARCELWATCH_ORS_* environment variables
func GetConfig() Config {
	config := Config{
		BaseURL:           defaultBaseURL,
		Profile:           defaultProfile,
		RequestsPerMinute: defaultRequestsPerMinute,
	}

	env := util.GetEnvironmentVariables()

	config.APIKey = env["PARCELWATCH_ORS_API_KEY"]
	config.Country = env["PARCELWATCH_ORS_COUNTRY"]

	if env["PARCELWATCH_ORS_BASE_URL"] != "" {
		config.BaseURL = env["PARCELWATCH_ORS_BASE_URL"]
	}
	if env["PARCELWATCH_ORS_PROFILE"] != "" {
		config.Profile = env["PARCELWATCH_ORS_PROFILE"]
	}
	if env["PARCELWATCH_ORS_REQUESTS_PER_MINUTE"] != "" {
		if n, err := strconv.Atoi(env["PARCELWATCH_ORS_REQUESTS_PER_MINUTE"]); err == nil && n > 0 {
			config.RequestsPerMinute = n
		}
	}

	return config
}

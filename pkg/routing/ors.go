package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/twpayne/go-polyline"
	"golang.org/x/time/rate"
)

const providerName = "openrouteservice"

// ORSProvider implements Router and Geocoder. It is safe for concurrent use.
type ORSProvider struct {
	session *http.Client
	apiKey  string
	baseURL string
	profile string
	country string

	limiter       *rate.Limiter
	retryInterval time.Duration

	cache *Cache
}

func NewORSProvider(config Config, cache *Cache) (*ORSProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("ORS api key is empty")
	}

	requestsPerMinute := config.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	profile := config.Profile
	if profile == "" {
		profile = defaultProfile
	}

	return &ORSProvider{
		session:       &http.Client{Timeout: 10 * time.Second},
		apiKey:        config.APIKey,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		profile:       profile,
		country:       config.Country,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 5),
		retryInterval: 200 * time.Millisecond,
		cache:         cache,
	}, nil
}

func providerError(err error) error {
	return &model.ProviderError{Provider: providerName, Err: err}
}

type directionsRequest struct {
	Coordinates  [][]float64 `json:"coordinates"`
	Instructions bool        `json:"instructions"`
}

type directionsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
		Geometry string `json:"geometry"`
	} `json:"routes"`
}

func routeCacheKey(profile string, coordinates [][]float64) string {
	parts := make([]string, 0, len(coordinates))
	for _, point := range coordinates {
		parts = append(parts, fmt.Sprintf("%.6f,%.6f", point[0], point[1]))
	}

	return fmt.Sprintf("route:%s:%s", profile, strings.Join(parts, ";"))
}

// Route returns the road geometry through the given [lon,lat] points
func (o *ORSProvider) Route(ctx context.Context, coordinates [][]float64) (*model.Route, error) {
	if len(coordinates) < 2 {
		return nil, providerError(errors.New("at least two coordinates are required"))
	}

	cacheKey := routeCacheKey(o.profile, coordinates)
	if cached, ok := o.cache.GetRoute(ctx, cacheKey); ok {
		return cached, nil
	}

	body, err := json.Marshal(directionsRequest{Coordinates: coordinates})
	if err != nil {
		return nil, providerError(fmt.Errorf("encode directions request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v2/directions/%s", o.baseURL, o.profile)
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	})
	if err != nil {
		return nil, providerError(fmt.Errorf("directions request: %w", err))
	}
	defer resp.Body.Close()

	var decoded directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, providerError(fmt.Errorf("decode directions response: %w", err))
	}
	if len(decoded.Routes) == 0 {
		return nil, providerError(errors.New("no route returned"))
	}

	// Encoded polylines are [lat, lon]
	points, _, err := polyline.DecodeCoords([]byte(decoded.Routes[0].Geometry))
	if err != nil {
		return nil, providerError(fmt.Errorf("decode route geometry: %w", err))
	}
	if len(points) < 2 {
		return nil, providerError(errors.New("route geometry has fewer than two points"))
	}

	geometry := make([][]float64, 0, len(points))
	for _, point := range points {
		geometry = append(geometry, []float64{point[1], point[0]})
	}

	route := &model.Route{
		Geometry:      geometry,
		TotalDistance: decoded.Routes[0].Summary.Distance,
		TotalDuration: decoded.Routes[0].Summary.Duration,
	}

	o.cache.SetRoute(ctx, cacheKey, route)

	log.Debug().
		Int("points", len(geometry)).
		Float64("distance", route.TotalDistance).
		Msg("Fetched route from OpenRouteService")

	return route, nil
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// normalize ensures consistent cache keys by collapsing whitespace
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (o *ORSProvider) Geocode(ctx context.Context, address string) ([]float64, error) {
	normalized := normalize(address)
	if normalized == "" {
		return nil, providerError(errors.New("address must be non-empty"))
	}

	cacheKey := "geocode:" + strings.ToLower(normalized)
	if cached, ok := o.cache.GetCoordinates(ctx, cacheKey); ok {
		return cached, nil
	}

	endpoint := o.baseURL + "/geocode/search"
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := o.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		q := req.URL.Query()
		q.Set("text", normalized)
		q.Set("size", "1")
		if o.country != "" {
			q.Set("boundary.country", o.country)
		}
		req.URL.RawQuery = q.Encode()

		return req, nil
	})
	if err != nil {
		return nil, providerError(fmt.Errorf("geocode request: %w", err))
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, providerError(fmt.Errorf("decode geocode response: %w", err))
	}

	if len(decoded.Features) == 0 {
		return nil, providerError(fmt.Errorf("no geocode results for %q", address))
	}

	coordinates := decoded.Features[0].Geometry.Coordinates
	if len(coordinates) != 2 {
		return nil, providerError(fmt.Errorf("invalid coordinate format for %q", address))
	}

	o.cache.SetCoordinates(ctx, cacheKey, coordinates)

	return coordinates, nil
}

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	// GoogleName is the identifier for the Google geocoder.
	GoogleName = "google"
	// googleGeocodeURL is the Google Geocoding API endpoint.
	googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
)

// googleResponse represents the JSON response from the Google Geocoding API.
type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

// googleResult represents a single match.
type googleResult struct {
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// ClientOption configures the HTTP based geocoders.
type ClientOption func(*httpClient)

// httpClient holds the settings shared by the HTTP based geocoders.
type httpClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.client = hc
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func newHTTPClient(baseURL string, opts []ClientOption) httpClient {
	c := httpClient{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		userAgent: "fuelscraper",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// get performs a GET request and returns the body of a 200 response.
func (c httpClient) get(ctx context.Context, provider string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, permanentf("%s: creating request: %v", provider, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: executing request: %w", provider, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response body: %w", provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(provider, resp.StatusCode, body)
	}

	return body, nil
}

// Google geocodes addresses with the Google Geocoding API.
type Google struct {
	http   httpClient
	apiKey string
	logger zerolog.Logger
}

// NewGoogle creates a new Google geocoder.
func NewGoogle(apiKey string, logger zerolog.Logger, opts ...ClientOption) *Google {
	return &Google{
		http:   newHTTPClient(googleGeocodeURL, opts),
		apiKey: apiKey,
		logger: logger.With().Str("geocoder", GoogleName).Logger(),
	}
}

// Name returns the geocoder identifier.
func (g *Google) Name() string {
	return GoogleName
}

// Geocode resolves an address with the Google Geocoding API.
func (g *Google) Geocode(ctx context.Context, address string, opts Options) (*Location, error) {
	params := url.Values{
		"address": {address},
		"key":     {g.apiKey},
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	if opts.Region != "" {
		params.Set("region", opts.Region)
	}

	body, err := g.http.get(ctx, GoogleName, params)
	if err != nil {
		return nil, err
	}

	var resp googleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: parsing response JSON: %w", GoogleName, err)
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, fmt.Errorf("%s: status %s: %s", GoogleName, resp.Status, resp.ErrorMessage)
	default:
		// REQUEST_DENIED, INVALID_REQUEST, OVER_DAILY_LIMIT
		return nil, permanentf("%s: status %s: %s", GoogleName, resp.Status, resp.ErrorMessage)
	}

	if len(resp.Results) == 0 {
		return nil, nil
	}

	result := resp.Results[0]
	g.logger.Debug().
		Str("address", address).
		Str("formattedAddress", result.FormattedAddress).
		Msg("google geocoding match")

	return &Location{
		Latitude:  result.Geometry.Location.Lat,
		Longitude: result.Geometry.Location.Lng,
		Address:   result.FormattedAddress,
	}, nil
}

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

const (
	// NominatimName is the identifier for the OpenStreetMap Nominatim geocoder.
	NominatimName = "nominatim"
	// nominatimSearchURL is the public Nominatim search endpoint.
	nominatimSearchURL = "https://nominatim.openstreetmap.org/search"
)

// nominatimPlace represents a single entry of the Nominatim search response.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Nominatim geocodes addresses with an OpenStreetMap Nominatim server.
// The public server allows one request per second and requires an
// identifying User-Agent.
type Nominatim struct {
	http   httpClient
	logger zerolog.Logger
}

// NewNominatim creates a new Nominatim geocoder.
func NewNominatim(logger zerolog.Logger, opts ...ClientOption) *Nominatim {
	return &Nominatim{
		http:   newHTTPClient(nominatimSearchURL, opts),
		logger: logger.With().Str("geocoder", NominatimName).Logger(),
	}
}

// Name returns the geocoder identifier.
func (n *Nominatim) Name() string {
	return NominatimName
}

// Geocode resolves an address with the Nominatim search API.
func (n *Nominatim) Geocode(ctx context.Context, address string, opts Options) (*Location, error) {
	params := url.Values{
		"q":      {address},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if opts.Language != "" {
		params.Set("accept-language", opts.Language)
	}
	if opts.Region != "" {
		params.Set("countrycodes", opts.Region)
	}

	body, err := n.http.get(ctx, NominatimName, params)
	if err != nil {
		return nil, err
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, fmt.Errorf("%s: parsing response JSON: %w", NominatimName, err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	place := places[0]
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, permanentf("%s: parsing latitude %q: %v", NominatimName, place.Lat, err)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, permanentf("%s: parsing longitude %q: %v", NominatimName, place.Lon, err)
	}

	n.logger.Debug().
		Str("address", address).
		Str("displayName", place.DisplayName).
		Msg("nominatim geocoding match")

	return &Location{
		Latitude:  lat,
		Longitude: lon,
		Address:   place.DisplayName,
	}, nil
}

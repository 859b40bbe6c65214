// Package geocode resolves station addresses to coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrPermanent marks geocoder errors that must not be retried
// (e.g., a rejected API key or a malformed request).
var ErrPermanent = errors.New("permanent geocoding error")

// Location is a geocoding match.
type Location struct {
	Latitude  float64
	Longitude float64
	// Address is the geocoder's canonical address for the match.
	Address string
}

// Options bias geocoding results toward the expected country.
type Options struct {
	// Language is the preferred result language (e.g., "de").
	Language string
	// Region is a country code hint (e.g., "de").
	Region string
}

// Geocoder defines the interface for geocoding backends.
type Geocoder interface {
	// Name returns the geocoder identifier.
	Name() string

	// Geocode resolves an address. It returns nil and no error when the
	// service was reachable but found no location.
	Geocode(ctx context.Context, address string, opts Options) (*Location, error)
}

// permanentf creates an error wrapping ErrPermanent.
func permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// statusError classifies an unexpected HTTP status code.
// Throttling and server errors are retryable, everything else is not.
func statusError(provider string, code int, body []byte) error {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return fmt.Errorf("%s: unexpected status code %d: %s", provider, code, truncate(body))
	default:
		return permanentf("%s: unexpected status code %d: %s", provider, code, truncate(body))
	}
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

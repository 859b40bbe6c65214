package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/andygrunwald/fuel-price-scraper/internal/address"
	"github.com/andygrunwald/fuel-price-scraper/internal/metrics"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// Outcome describes what happened when resolving a record.
type Outcome string

const (
	// OutcomeSkipped means the station already had coordinates.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeResolved means coordinates were found.
	OutcomeResolved Outcome = "resolved"
	// OutcomeUnresolved means the geocoder found no location.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeFailed means the geocoder kept failing and the record stays unresolved.
	OutcomeFailed Outcome = "failed"
)

// Checker reports whether a station already has stored coordinates.
type Checker interface {
	IsGeocoded(ctx context.Context, externalID string) (bool, error)
}

// Service enriches scraped records with coordinates.
// All services derived from one another share the same rate limiter.
type Service struct {
	geocoder   Geocoder
	checker    Checker
	limiter    *rate.Limiter
	retry      RetryPolicy
	opts       Options
	normalizer *address.Normalizer
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLimiter sets the rate limiter guarding outbound calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithMinDelay enforces a minimum delay between two outbound calls.
func WithMinDelay(d time.Duration) Option {
	return func(s *Service) {
		s.limiter = NewLimiter(d)
	}
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

// WithOptions sets the language and region hints passed to the geocoder.
func WithOptions(o Options) Option {
	return func(s *Service) {
		s.opts = o
	}
}

// WithNormalizer replaces the default address normalizer.
func WithNormalizer(n *address.Normalizer) Option {
	return func(s *Service) {
		s.normalizer = n
	}
}

// WithMetrics records geocoding metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewLimiter returns a limiter that allows one call per minDelay.
func NewLimiter(minDelay time.Duration) *rate.Limiter {
	if minDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minDelay), 1)
}

// NewService creates a new geocoding Service.
func NewService(g Geocoder, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		geocoder:   g,
		limiter:    NewLimiter(time.Second),
		retry:      DefaultRetryPolicy(),
		opts:       Options{Language: "de", Region: "de"},
		normalizer: address.New(address.DefaultRules...),
		logger:     logger.With().Str("component", "geocode").Str("geocoder", g.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = func(attempt int, err error) {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("geocoding failed, retrying")
		}
	}
	return s
}

// WithChecker returns a copy of s that consults c before geocoding.
// The copy shares the rate limiter of s.
func (s *Service) WithChecker(c Checker) *Service {
	cp := *s
	cp.checker = c
	return &cp
}

// Resolve fills in the coordinates of rec. Geocoding problems leave the
// record unresolved and are reported through the Outcome. An error is
// returned only if the store check fails or ctx is done.
func (s *Service) Resolve(ctx context.Context, rec *models.ScrapedRecord) (Outcome, error) {
	if rec.HasCoordinates() {
		s.record(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	if s.checker != nil {
		geocoded, err := s.checker.IsGeocoded(ctx, rec.ExternalID)
		if err != nil {
			return "", fmt.Errorf("checking geocoding state of station %s: %w", rec.ExternalID, err)
		}
		if geocoded {
			s.logger.Debug().Str("station", rec.ExternalID).Msg("station already geocoded, skipping")
			s.record(OutcomeSkipped)
			return OutcomeSkipped, nil
		}
	}

	loc, outcome, err := s.Locate(ctx, rec.Address)
	if err != nil {
		return outcome, err
	}

	switch outcome {
	case OutcomeResolved:
		rec.SetCoordinates(loc.Latitude, loc.Longitude)
		if loc.Address != "" {
			rec.ResolvedAddress = loc.Address
			rec.Address = loc.Address
		}
		s.logger.Info().
			Str("station", rec.ExternalID).
			Float64("latitude", loc.Latitude).
			Float64("longitude", loc.Longitude).
			Str("address", loc.Address).
			Msg("found coordinates")
	case OutcomeUnresolved:
		s.logger.Warn().
			Str("station", rec.ExternalID).
			Str("address", rec.Address).
			Msg("could not find coordinates")
	case OutcomeFailed:
		s.logger.Warn().
			Str("station", rec.ExternalID).
			Str("address", rec.Address).
			Msg("geocoding gave up, station stays unresolved")
	}

	return outcome, nil
}

// Locate geocodes a free text address through the rate limiter and retry policy.
// The only error returned is the context error when ctx is done.
func (s *Service) Locate(ctx context.Context, addr string) (*Location, Outcome, error) {
	query := s.normalizer.Normalize(addr)
	if query == "" {
		s.record(OutcomeUnresolved)
		return nil, OutcomeUnresolved, nil
	}

	var loc *Location
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}

		start := time.Now()
		l, err := s.geocoder.Geocode(ctx, query, s.opts)
		duration := time.Since(start)

		switch {
		case err != nil:
			s.metrics.RecordGeocodeRequest("error", duration.Seconds())
			return err
		case l == nil:
			s.metrics.RecordGeocodeRequest("no_match", duration.Seconds())
		default:
			s.metrics.RecordGeocodeRequest("ok", duration.Seconds())
		}

		s.logger.Debug().
			Str("query", query).
			Bool("matched", l != nil).
			Dur("duration", duration).
			Msg("geocoding request finished")

		loc = l
		return nil
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, OutcomeFailed, ctxErr
		}
		s.logger.Warn().
			Err(err).
			Str("query", query).
			Bool("permanent", IsPermanent(err)).
			Msg("geocoding failed")
		s.record(OutcomeFailed)
		return nil, OutcomeFailed, nil
	}

	if loc == nil {
		s.record(OutcomeUnresolved)
		return nil, OutcomeUnresolved, nil
	}

	s.record(OutcomeResolved)
	return loc, OutcomeResolved, nil
}

func (s *Service) record(o Outcome) {
	s.metrics.RecordGeocodeOutcome(string(o))
}

// Package fetcher fetches single tickets with rate limit backoff. Every
// failure mode is converted into a Result, so callers never see a panic or an
// error crossing this boundary.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/ticket-export/pkg/client"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_export_retries_total",
		Help: "Total number of retries after a rate limited response",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticket_export_retry_backoff_seconds",
		Help:    "Backoff duration before a rate limit retry",
		Buckets: []float64{1, 5, 10, 30, 60, 130, 630},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_export_retry_exhausted_total",
		Help: "Total number of tickets abandoned after exhausting rate limit retries",
	})

	fetchResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_export_fetch_results_total",
		Help: "Fetch outcomes by reason",
	}, []string{"reason"})
)

// Reason explains why a Result carries no document.
type Reason string

const (
	// ReasonNone marks a successful fetch.
	ReasonNone Reason = ""

	// ReasonRateLimitExhausted means every attempt was rate limited.
	ReasonRateLimitExhausted Reason = "rate_limit_exhausted"

	// ReasonNotFound means the ticket does not exist.
	ReasonNotFound Reason = "not_found"

	// ReasonFetchFailed covers network, payload and other non-retryable errors.
	ReasonFetchFailed Reason = "fetch_failed"

	// ReasonCancelled means the context ended while waiting to retry.
	ReasonCancelled Reason = "cancelled"
)

// Result is the outcome of fetching one ticket: a document, or the reason
// there is none.
type Result struct {
	ID       int64
	Document *client.Document
	Reason   Reason
	Err      error
	Attempts int
}

// OK reports whether the fetch produced a document.
func (r Result) OK() bool {
	return r.Document != nil && r.Reason == ReasonNone
}

// Config holds the configuration for the retry loop.
type Config struct {
	// MaxAttempts is the maximum number of calls per ticket (including the first).
	MaxAttempts int

	// Base is raised to the attempt number (from 0) to get the delay in seconds.
	Base float64

	// Jitter is the upper bound of the uniform random delay added to each backoff.
	Jitter time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Base:        5,
		Jitter:      5 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher retries rate limited ticket fetches with exponential backoff and
// jitter. A Fetcher holds no per-ticket state; it may be shared.
type Fetcher struct {
	config Config
	sleep  SleepFunc
	random func() float64
	logger zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSleep replaces the wait between attempts (for testing).
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// WithRandom replaces the jitter source; fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(f *Fetcher) {
		f.random = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Base <= 0 {
		cfg.Base = defaults.Base
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	f := &Fetcher{
		config: cfg,
		sleep:  sleepContext,
		random: rand.Float64,
		logger: log.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backoff returns the delay before retrying after the given attempt (from 0).
func (f *Fetcher) Backoff(attempt int) time.Duration {
	seconds := math.Pow(f.config.Base, float64(attempt))
	jitter := time.Duration(f.random() * float64(f.config.Jitter))
	return time.Duration(seconds*float64(time.Second)) + jitter
}

// Fetch fetches one ticket through getter. Only rate limited responses are
// retried; any other error ends the fetch at once.
func (f *Fetcher) Fetch(ctx context.Context, getter client.RecordGetter, id int64) Result {
	result := Result{ID: id}

	for attempt := 0; attempt < f.config.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		doc, err := f.call(ctx, getter, id)
		if err == nil {
			if doc == nil {
				err = fmt.Errorf("%w: empty response", client.ErrMalformedPayload)
			} else {
				if attempt > 0 {
					f.logger.Info().
						Int64("ticket_id", id).
						Int("attempt", result.Attempts).
						Msg("Request succeeded after retry")
				}
				result.Document = doc
				fetchResultsTotal.WithLabelValues("ok").Inc()
				return result
			}
		}

		if !client.IsRateLimited(err) {
			return f.fail(ctx, result, err)
		}

		if attempt+1 >= f.config.MaxAttempts {
			break
		}

		retriesTotal.Inc()
		delay := f.Backoff(attempt)
		retryBackoffSeconds.Observe(delay.Seconds())

		f.logger.Warn().
			Int64("ticket_id", id).
			Int("attempt", result.Attempts).
			Dur("backoff", delay).
			Msgf("Rate limited on ticket %d. Retrying in %.2fs", id, delay.Seconds())

		if err := f.sleep(ctx, delay); err != nil {
			f.logger.Warn().
				Int64("ticket_id", id).
				Int("attempt", result.Attempts).
				Msg("Context cancelled during retry backoff")
			result.Reason = ReasonCancelled
			result.Err = err
			fetchResultsTotal.WithLabelValues(string(ReasonCancelled)).Inc()
			return result
		}
	}

	retryExhaustedTotal.Inc()
	f.logger.Error().
		Int64("ticket_id", id).
		Int("max_attempts", f.config.MaxAttempts).
		Msgf("Failed to fetch ticket %d after %d retries", id, f.config.MaxAttempts)

	result.Reason = ReasonRateLimitExhausted
	result.Err = fmt.Errorf("%w after %d attempts", client.ErrRateLimited, f.config.MaxAttempts)
	fetchResultsTotal.WithLabelValues(string(ReasonRateLimitExhausted)).Inc()
	return result
}

// call invokes the capability once, turning a panic into an error.
func (f *Fetcher) call(ctx context.Context, getter client.RecordGetter, id int64) (doc *client.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("panic fetching ticket %d: %v", id, r)
		}
	}()
	return getter.GetRecord(ctx, id)
}

func (f *Fetcher) fail(ctx context.Context, result Result, err error) Result {
	result.Err = err
	switch {
	case ctx.Err() != nil:
		result.Reason = ReasonCancelled
		f.logger.Warn().
			Int64("ticket_id", result.ID).
			Msg("Context cancelled while fetching ticket")
	case errors.Is(err, client.ErrNotFound):
		result.Reason = ReasonNotFound
		f.logger.Warn().
			Int64("ticket_id", result.ID).
			Msg("Ticket not found")
	default:
		result.Reason = ReasonFetchFailed
		f.logger.Error().
			Err(err).
			Int64("ticket_id", result.ID).
			Str("error_class", string(client.ClassOf(err))).
			Msgf("Error fetching ticket %d", result.ID)
	}
	fetchResultsTotal.WithLabelValues(string(result.Reason)).Inc()
	return result
}

// sleepContext waits with context cancellation support.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

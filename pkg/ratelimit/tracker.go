package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticket_export_rate_limit_remaining",
		Help: "Requests remaining in the current Freshservice rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_export_rate_limit_blocks_total",
		Help: "Total number of requests held until the rate limit window reset",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_export_rate_limit_throttles_total",
		Help: "Total number of requests delayed because the budget was low",
	})
)

// Defaults for Tracker pacing.
const (
	DefaultThrottleDelay = time.Second
	DefaultMaxBlock      = Window
)

// Tracker stores the Freshservice rate limit budget in Redis and paces
// requests against it. It satisfies client.Limiter.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	// ThrottleDelay is slept before each request while the budget is low.
	ThrottleDelay time.Duration

	// MaxBlock caps a single wait for the window reset.
	MaxBlock time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		ThrottleDelay: DefaultThrottleDelay,
		MaxBlock:      DefaultMaxBlock,
		sleep:         sleepContext,
	}
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	pipe := t.redis.Pipeline()
	remainingCmd := pipe.Get(ctx, RedisKeyRemaining)
	totalCmd := pipe.Get(ctx, RedisKeyTotal)
	resetCmd := pipe.Get(ctx, RedisKeyResetTimestamp)
	lastUpdateCmd := pipe.Get(ctx, RedisKeyLastUpdate)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read rate limit state: %w", err)
	}

	remaining, err := remainingCmd.Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	total, err := totalCmd.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get total: %w", err)
	}

	resetTimestamp, err := resetCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	var lastUpdate time.Time
	if raw, err := lastUpdateCmd.Bytes(); err == nil {
		if err := json.Unmarshal(raw, &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &State{
		Remaining:  remaining,
		Total:      total,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

func defaultState() *State {
	now := time.Now()
	return &State{
		Remaining:  RemainingThresholdWarning * 2, // assume healthy until a response says otherwise
		ResetAt:    now.Add(Window),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// StateFromHeaders builds a State from Freshservice response headers. ok is
// false when the response carries no rate limit information.
func StateFromHeaders(headers http.Header, now time.Time) (state *State, ok bool, err error) {
	remainStr := headers.Get(HeaderRemaining)
	retryStr := headers.Get(HeaderRetryAfter)
	if remainStr == "" && retryStr == "" {
		return nil, false, nil
	}

	state = &State{
		ResetAt:    now.Add(Window),
		LastUpdate: now,
	}

	if remainStr != "" {
		state.Remaining, err = strconv.Atoi(remainStr)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
	}

	if totalStr := headers.Get(HeaderTotal); totalStr != "" {
		state.Total, err = strconv.Atoi(totalStr)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s header: %w", HeaderTotal, err)
		}
	}

	// Retry-After only accompanies a 429; the budget is spent until then
	if retryStr != "" {
		seconds, err := strconv.Atoi(retryStr)
		if err != nil || seconds < 0 {
			return nil, false, fmt.Errorf("parse %s header: invalid value %q", HeaderRetryAfter, retryStr)
		}
		state.ResetAt = now.Add(time.Duration(seconds) * time.Second)
		if remainStr == "" {
			state.Remaining = 0
		}
	}

	state.UpdateHealth()
	return state, true, nil
}

// UpdateFromHeaders parses Freshservice rate limit headers and updates Redis state.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := StateFromHeaders(headers, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyTotal, state.Total, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.Set(float64(state.Remaining))

	event := t.logger.Debug()
	msg := "Rate limit state updated"
	if state.NeedsCriticalBlock() {
		event = t.logger.Warn()
		msg = "Rate limit nearly exhausted - requests will wait for reset"
	} else if state.NeedsThrottling() {
		event = t.logger.Info()
		msg = "Rate limit low - requests will be throttled"
	}
	event.
		Int("remaining", state.Remaining).
		Int("total", state.Total).
		Time("reset_at", state.ResetAt).
		Bool("is_healthy", state.IsHealthy).
		Msg(msg)

	return nil
}

// Wait blocks until a request may be sent. With a nearly exhausted budget it
// waits for the window reset (at most MaxBlock); with a low budget it sleeps
// ThrottleDelay. Only a cancelled context is returned as an error; an
// unreachable Redis lets the request through.
func (t *Tracker) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := t.GetState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, not pacing request")
		return nil
	}

	switch {
	case state.NeedsCriticalBlock():
		wait := state.TimeUntilReset()
		if t.MaxBlock > 0 && wait > t.MaxBlock {
			wait = t.MaxBlock
		}
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Rate limit critical - holding request until reset")
		rateLimitBlocksTotal.Inc()
		return t.sleep(ctx, wait)

	case state.NeedsThrottling():
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Rate limit low - throttling request")
		rateLimitThrottlesTotal.Inc()
		return t.sleep(ctx, t.ThrottleDelay)
	}

	return nil
}

// Reset removes the stored state.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.redis.Del(ctx, RedisKeyRemaining, RedisKeyTotal, RedisKeyResetTimestamp, RedisKeyLastUpdate).Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "searchstax_rate_limit_remaining",
		Help: "Request budget reported by the API in the last response",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "searchstax_rate_limit_blocks_total",
		Help: "Total number of Retry-After blocks received from the API",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchstax_rate_limit_wait_seconds",
		Help:    "Time spent waiting before sending a request",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
	})
)

// Tracker gates outgoing requests: a token bucket paces the steady-state
// rate and a Retry-After block pauses everything until it expires.
type Tracker struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state RateLimitState
}

// NewTracker creates a tracker allowing requestsPerSecond with the given
// burst. A non-positive rate disables pacing.
func NewTracker(requestsPerSecond float64, burst int, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}

	return &Tracker{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
		state:   RateLimitState{Remaining: -1},
	}
}

// GetState returns a copy of the current state.
func (t *Tracker) GetState() RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Wait blocks until a request may be sent or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	start := t.now()

	t.mu.Lock()
	blocked := t.state.TimeUntilUnblocked(start)
	t.mu.Unlock()

	if blocked > 0 {
		t.logger.Warn().
			Dur("wait_duration", blocked).
			Msg("Rate limited by API - waiting before next request")

		timer := time.NewTimer(blocked)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// UpdateFromHeaders records throttling signals of a response and returns
// the Retry-After delay it imposed, if any.
func (t *Tracker) UpdateFromHeaders(statusCode int, headers http.Header) time.Duration {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.LastUpdate = now

	if remainStr := headers.Get(HeaderRemaining); remainStr != "" {
		if remain, err := strconv.Atoi(remainStr); err == nil {
			t.state.Remaining = remain
			rateLimitRemaining.Set(float64(remain))
		} else {
			t.logger.Debug().Str("value", remainStr).Msg("Ignoring malformed rate limit header")
		}
	}

	if statusCode != http.StatusTooManyRequests && statusCode != http.StatusServiceUnavailable {
		return 0
	}

	delay, ok := ParseRetryAfter(headers.Get(HeaderRetryAfter), now)
	if !ok || delay == 0 {
		return 0
	}

	if until := now.Add(delay); until.After(t.state.BlockedUntil) {
		t.state.BlockedUntil = until
	}
	rateLimitBlocksTotal.Inc()

	t.logger.Warn().
		Int("status", statusCode).
		Dur("retry_after", delay).
		Msg("API requested backoff")

	return delay
}

// Package ratelimit paces requests to the SearchStax API and honors the
// server's throttling signals (Retry-After on 429/503 and the
// X-RateLimit-Remaining header when present).
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names read from API responses.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
)

// MaxRetryAfter caps a server supplied Retry-After.
const MaxRetryAfter = 5 * time.Minute

// RateLimitState is the throttling state learned from the last response.
type RateLimitState struct {
	// Remaining is the request budget reported upstream, -1 when unknown.
	Remaining int `json:"remaining"`

	// BlockedUntil is the earliest time the next request may be sent.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when this state was last updated from headers.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked reports whether requests must wait at now.
func (s *RateLimitState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilUnblocked returns the remaining wait, or 0.
func (s *RateLimitState) TimeUntilUnblocked(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads a Retry-After value given either as delay seconds or
// as an HTTP date. The result is capped at MaxRetryAfter.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
		if d < 0 {
			d = 0
		}
	} else {
		return 0, false
	}

	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	return d, true
}

// Package auth implements the SearchStax token exchange.
//
// Credentials are traded for a token once, lazily, on the first request.
// The token is never refreshed proactively; the request executor calls
// Invalidate after an authorization failure and the next Header call
// acquires a new one.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// TokenPath is the credential exchange endpoint, relative to the API root.
const TokenPath = "/obtain-auth-token/"

var tokenAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "searchstax_token_acquisitions_total",
	Help: "Token acquisitions by outcome",
}, []string{"outcome"})

// AuthError means no valid token could be obtained. It aborts the run.
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("auth error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Token is an acquired API token.
type Token struct {
	Value      string
	AcquiredAt time.Time
}

// Config holds authenticator settings.
type Config struct {
	// URL is the full credential exchange URL.
	URL string

	Username string
	Password string

	// UserAgent is sent with the exchange request when set.
	UserAgent string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Authenticator owns the session token.
type Authenticator struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	token *Token
}

// New creates an authenticator.
func New(cfg Config, logger zerolog.Logger) (*Authenticator, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("token url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Authenticator{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Acquire exchanges the configured credentials for a new token and caches it.
func (a *Authenticator) Acquire(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acquireLocked(ctx)
}

func (a *Authenticator) acquireLocked(ctx context.Context) (Token, error) {
	payload, err := json.Marshal(map[string]string{
		"username": a.cfg.Username,
		"password": a.cfg.Password,
	})
	if err != nil {
		return Token{}, &AuthError{Message: "encode credentials", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Token{}, &AuthError{Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		tokenAcquisitionsTotal.WithLabelValues("network_error").Inc()
		return Token{}, &AuthError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		tokenAcquisitionsTotal.WithLabelValues("read_error").Inc()
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tokenAcquisitionsTotal.WithLabelValues("rejected").Inc()
		a.logger.Error().
			Int("status", resp.StatusCode).
			Dur("latency", time.Since(start)).
			Msg("Credential exchange rejected")
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		tokenAcquisitionsTotal.WithLabelValues("malformed").Inc()
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "decode token response", Err: err}
	}
	if strings.TrimSpace(data.Token) == "" {
		tokenAcquisitionsTotal.WithLabelValues("malformed").Inc()
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "response has no token"}
	}

	token := Token{Value: data.Token, AcquiredAt: time.Now()}
	a.token = &token

	tokenAcquisitionsTotal.WithLabelValues("success").Inc()
	a.logger.Info().
		Dur("latency", time.Since(start)).
		Msg("Acquired API token")

	return token, nil
}

// Header returns the Authorization header, acquiring a token on first use.
func (a *Authenticator) Header(ctx context.Context) (http.Header, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		if _, err := a.acquireLocked(ctx); err != nil {
			return nil, err
		}
	}

	h := make(http.Header, 1)
	h.Set("Authorization", "Token "+a.token.Value)
	return h, nil
}

// Invalidate drops the cached token.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil {
		a.logger.Warn().Msg("Invalidating API token")
	}
	a.token = nil
}

// Current returns the cached token, if any.
func (a *Authenticator) Current() (Token, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == nil {
		return Token{}, false
	}
	return *a.token, true
}

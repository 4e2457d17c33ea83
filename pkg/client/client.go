// Package client implements the request executor for the SearchStax API:
// authentication, pacing, retry with backoff and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/auth"
	"github.com/Sternrassler/tap-searchstax/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Version is the tap version reported in the default User-Agent. It is set
// at build time via -ldflags.
var Version = "dev"

// DefaultUserAgent returns the User-Agent sent when none is configured.
func DefaultUserAgent() string {
	return "tap-searchstax/" + Version
}

// maxErrorBody bounds the response body copied into a RequestError.
const maxErrorBody = 512

// Prometheus metrics for request execution.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchstax_requests_total",
		Help: "Total API requests by resource and status",
	}, []string{"resource", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "searchstax_request_duration_seconds",
		Help:    "API request duration in seconds by resource",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"resource"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchstax_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	reauthTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "searchstax_reauthentications_total",
		Help: "Token re-acquisitions triggered by 401 responses",
	})
)

var tracer = otel.Tracer("github.com/Sternrassler/tap-searchstax/pkg/client")

// Authorizer supplies the Authorization header and drops it on rejection.
// *auth.Authenticator implements it.
type Authorizer interface {
	Header(ctx context.Context) (http.Header, error)
	Invalidate()
}

// Pacer gates outgoing requests. *ratelimit.Tracker implements it.
type Pacer interface {
	Wait(ctx context.Context) error
	UpdateFromHeaders(statusCode int, headers http.Header) time.Duration
}

// Request describes one API call.
type Request struct {
	// Resource names the stream the call belongs to (logging, metrics).
	Resource string

	// Method defaults to GET.
	Method string

	// URL is absolute. Params are merged into its query, replacing keys.
	URL    string
	Params url.Values

	// Header carries extra request headers.
	Header http.Header
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// Config holds the executor configuration.
type Config struct {
	// Auth supplies tokens (REQUIRED).
	Auth Authorizer

	// Limiter paces requests. Nil disables pacing.
	Limiter Pacer

	// UserAgent defaults to DefaultUserAgent().
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration // overrides the per-class initial backoff when > 0

	// HTTPClient replaces the default client (Timeout is then ignored).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(authorizer Authorizer, limiter Pacer) Config {
	return Config{
		Auth:       authorizer,
		Limiter:    limiter,
		UserAgent:  DefaultUserAgent(),
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Client is the SearchStax request executor.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new request executor.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logger.With().Str("component", "executor").Logger(),
	}, nil
}

// Execute performs req with pacing, authentication and retries.
//
// Transient failures (network, 429, 5xx) are retried with backoff and end
// in an error wrapping ErrRetryExhausted. Other 4xx responses return a
// *RequestError. A 401 invalidates the token and the request is repeated
// once with a fresh one; a second 401 returns an *auth.AuthError.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "searchstax.request", trace.WithAttributes(
		attribute.String("searchstax.resource", req.Resource),
		attribute.String("http.method", req.Method),
		attribute.String("http.url", target),
	))
	defer span.End()

	resp, err := c.executeWithRetry(ctx, req, target)

	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.ErrorClass == ErrorClassAuth {
		c.logger.Warn().
			Str("resource", req.Resource).
			Msg("Token rejected - re-authenticating once")
		reauthTotal.Inc()
		c.config.Auth.Invalidate()

		resp, err = c.executeWithRetry(ctx, req, target)
		if err != nil && errors.As(err, &apiErr) && apiErr.ErrorClass == ErrorClassAuth {
			err = &auth.AuthError{
				StatusCode: apiErr.StatusCode,
				Message:    "token rejected after re-authentication",
			}
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (c *Client) executeWithRetry(ctx context.Context, req Request, target string) (*Response, error) {
	var resp *Response

	err := retryWithBackoff(ctx, func() error {
		var attemptErr error
		resp, attemptErr = c.attempt(ctx, req, target)
		return attemptErr
	}, classifyError, c.retryConfig)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt sends the request once.
func (c *Client) attempt(ctx context.Context, req Request, target string) (*Response, error) {
	if c.config.Limiter != nil {
		if err := c.config.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	authHeader, err := c.config.Auth.Header(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, nil)
	if err != nil {
		return nil, &RequestError{Method: req.Method, URL: target, Body: err.Error()}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range authHeader {
		httpReq.Header[k] = vs
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start)
	requestDuration.WithLabelValues(req.Resource).Observe(latency.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(req.Resource, "network_error").Inc()
		c.logger.Error().
			Err(err).
			Str("method", req.Method).
			Str("url", target).
			Dur("latency", latency).
			Msg("HTTP request failed")
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	var retryAfter time.Duration
	if c.config.Limiter != nil {
		retryAfter = c.config.Limiter.UpdateFromHeaders(httpResp.StatusCode, httpResp.Header)
	} else if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode == http.StatusServiceUnavailable {
		retryAfter, _ = ratelimit.ParseRetryAfter(httpResp.Header.Get(ratelimit.HeaderRetryAfter), time.Now())
	}

	requestsTotal.WithLabelValues(req.Resource, strconv.Itoa(httpResp.StatusCode)).Inc()

	errClass := classifyStatus(httpResp.StatusCode)
	event := c.logger.Debug()
	if errClass != "" {
		event = c.logger.Warn().Str("error_class", string(errClass))
	}
	event.
		Str("resource", req.Resource).
		Str("method", req.Method).
		Str("url", target).
		Int("status", httpResp.StatusCode).
		Dur("latency", latency).
		Msg("API request")

	switch errClass {
	case "":
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
			Latency:    latency,
		}, nil
	case ErrorClassClient:
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		return nil, &RequestError{
			StatusCode: httpResp.StatusCode,
			Method:     req.Method,
			URL:        target,
			Body:       truncate(string(body), maxErrorBody),
		}
	default:
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: errClass,
			Message:    httpResp.Status,
			RetryAfter: retryAfter,
		}
	}
}

// retryConfig applies the configured attempt budget to the per-class defaults.
func (c *Client) retryConfig(errorClass ErrorClass) RetryConfig {
	config := RetryConfigForErrorClass(errorClass)
	config.MaxAttempts = c.config.MaxRetries + 1
	if c.config.InitialBackoff > 0 {
		config.InitialBackoff = c.config.InitialBackoff
	}
	return config
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// buildURL merges params into the query of raw. Params replace existing keys.
func buildURL(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("request url must be absolute: %q", raw)
	}
	if len(params) == 0 {
		return u.String(), nil
	}

	query := u.Query()
	for k, vs := range params {
		query[k] = append([]string(nil), vs...)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package testutil provides testing utilities for the SearchStax tap.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TokenPath is the credential exchange endpoint of the mock.
const TokenPath = "/obtain-auth-token/"

// MockResponse defines the behavior for a mock endpoint response.
// "{{URL}}" in Body is replaced by the mock server URL.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request received by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// MockSearchStax is a configurable mock of the SearchStax REST API.
type MockSearchStax struct {
	server *httptest.Server

	// Username and Password are the accepted credentials.
	Username string
	Password string

	mu          sync.RWMutex
	handlers    map[string]func(w http.ResponseWriter, r *http.Request)
	failures    map[string][]MockResponse
	requests    []RecordedRequest
	tokens      int
	validToken  string
	rejectAuth  int
	tokenStatus int
}

// NewMockSearchStax starts a mock server accepting alice/secret.
func NewMockSearchStax() *MockSearchStax {
	mock := &MockSearchStax{
		Username: "alice",
		Password: "secret",
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockSearchStax) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearchStax) Close() {
	m.server.Close()
}

func (m *MockSearchStax) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == TokenPath {
		m.serveToken(w, r)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})

	authorized := m.validToken != "" && r.Header.Get("Authorization") == "Token "+m.validToken
	if authorized && m.rejectAuth > 0 {
		m.rejectAuth--
		authorized = false
	}

	var failure *MockResponse
	if queue := m.failures[r.URL.Path]; authorized && len(queue) > 0 {
		failure = &queue[0]
		m.failures[r.URL.Path] = queue[1:]
	}
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if !authorized {
		m.write(w, MockResponse{
			StatusCode: http.StatusUnauthorized,
			Body:       `{"detail": "Invalid token."}`,
		})
		return
	}
	if failure != nil {
		m.write(w, *failure)
		return
	}
	if !exists {
		m.write(w, MockResponse{StatusCode: http.StatusNotFound, Body: `{"detail": "Not found."}`})
		return
	}
	handler(w, r)
}

func (m *MockSearchStax) serveToken(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&creds) != nil {
		m.write(w, MockResponse{StatusCode: http.StatusBadRequest, Body: `{"detail": "bad request"}`})
		return
	}

	m.mu.Lock()
	status := m.tokenStatus
	ok := creds.Username == m.Username && creds.Password == m.Password
	if ok && status == 0 {
		m.tokens++
		m.validToken = "token-" + strconv.Itoa(m.tokens)
	}
	token := m.validToken
	m.mu.Unlock()

	switch {
	case status != 0:
		m.write(w, MockResponse{StatusCode: status, Body: `{"detail": "unavailable"}`})
	case !ok:
		m.write(w, MockResponse{
			StatusCode: http.StatusBadRequest,
			Body:       `{"non_field_errors": ["Unable to log in with provided credentials."]}`,
		})
	default:
		m.write(w, MockResponse{StatusCode: http.StatusOK, Body: fmt.Sprintf(`{"token": %q}`, token)})
	}
}

func (m *MockSearchStax) write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/json")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(strings.ReplaceAll(resp.Body, "{{URL}}", m.server.URL)))
	}
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSearchStax) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockSearchStax) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		m.write(w, resp)
	})
}

// SetPages serves pages[n-1] for ?page=n (no page parameter is page 1).
// Unknown pages are answered with an empty array.
func (m *MockSearchStax) SetPages(path string, pages ...string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if p := r.URL.Query().Get("page"); p != "" {
			if v, err := strconv.Atoi(p); err == nil {
				n = v
			}
		}
		body := "[]"
		if n >= 1 && n <= len(pages) {
			body = pages[n-1]
		}
		m.write(w, MockResponse{StatusCode: http.StatusOK, Body: body})
	})
}

// FailNext queues responses served (in order) for path before its handler.
func (m *MockSearchStax) FailNext(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], responses...)
}

// RejectNextAuth answers the next n authorized requests with 401.
func (m *MockSearchStax) RejectNextAuth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectAuth = n
}

// SetTokenStatus makes the token endpoint answer with status (0 restores it).
func (m *MockSearchStax) SetTokenStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenStatus = status
}

// TokenCount returns the number of tokens issued.
func (m *MockSearchStax) TokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens
}

// Requests returns the API requests received, excluding token exchanges.
func (m *MockSearchStax) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsFor returns the requests received for path.
func (m *MockSearchStax) RequestsFor(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Reset clears the request log.
func (m *MockSearchStax) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "Request was throttled."}`,
		Headers:    map[string]string{"X-RateLimit-Remaining": "0"},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
	}
}

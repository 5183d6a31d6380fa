// Package testutil provides testing utilities for the ticket exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock ticket response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFreshservice is a configurable mock Freshservice server for testing.
// Unknown ticket ids get a 404.
type MockFreshservice struct {
	server *httptest.Server
	mu     sync.RWMutex

	// per ticket id: queued responses, consumed in order; the last one repeats
	responses map[int64][]MockResponse

	// Tracking
	RequestCount    int
	RequestsByID    map[int64]int
	LastRequestAuth string
	LastQuery       string
}

// NewMockFreshservice creates a new mock Freshservice server.
func NewMockFreshservice() *MockFreshservice {
	mock := &MockFreshservice{
		responses:    make(map[int64][]MockResponse),
		RequestsByID: make(map[int64]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockFreshservice) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFreshservice) Close() {
	m.server.Close()
}

// SetResponses queues the responses for a ticket id.
func (m *MockFreshservice) SetResponses(id int64, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resps
}

// SetTicket configures a healthy response for a ticket.
func (m *MockFreshservice) SetTicket(id int64, updatedAt string) {
	m.SetResponses(id, NewTicketResponse(id, updatedAt))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFreshservice) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestsFor returns the number of requests made for one ticket.
func (m *MockFreshservice) GetRequestsFor(id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsByID[id]
}

func (m *MockFreshservice) handle(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v2/tickets/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, prefix), 10, 64)
	if err != nil {
		http.Error(w, `{"code":"invalid_value"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.RequestsByID[id]++
	m.LastRequestAuth = r.Header.Get("Authorization")
	m.LastQuery = r.URL.RawQuery

	var resp MockResponse
	queue, ok := m.responses[id]
	if ok {
		resp = queue[0]
		if len(queue) > 1 {
			m.responses[id] = queue[1:]
		}
	}
	m.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"access_denied","message":"You are not authorized to perform this action."}`))
		return
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// TicketBody renders a minimal Freshservice ticket payload.
func TicketBody(id int64, updatedAt string) string {
	body, _ := json.Marshal(map[string]any{
		"ticket": map[string]any{
			"id":         id,
			"subject":    fmt.Sprintf("Ticket %d", id),
			"updated_at": updatedAt,
			"created_at": updatedAt,
			"stats": map[string]any{
				"resolved_at": nil,
			},
		},
	})
	return string(body)
}

// NewTicketResponse creates a standard 200 OK ticket response with rate limit headers.
func NewTicketResponse(id int64, updatedAt string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       TicketBody(id, updatedAt),
		Headers: map[string]string{
			"X-RateLimit-Total":     "5000",
			"X-RateLimit-Remaining": "4999",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"You have exceeded the limit of requests per minute"}`,
		Headers: map[string]string{
			"X-RateLimit-Total":     "5000",
			"X-RateLimit-Remaining": "0",
			"Retry-After":           "1",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}

// Package testutil provides fake tracker servers for adapter tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// MockResponse represents a configured response for the mock server.
type MockResponse struct {
	StatusCode int
	Body       interface{}
}

// HandlerFunc serves a request whose body has already been read.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, body []byte)

// MockTrackerServer is the base mock server for tracker tests.
// It provides request recording, response configuration, and error simulation.
type MockTrackerServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	// Recorded requests for assertions
	requests []RecordedRequest

	// Response configuration
	responses      map[string]MockResponse // path -> response
	defaultHandler HandlerFunc

	// Error simulation
	serverError bool
	unavailable bool

	// Transient failure tracking
	failRequests int
	failCount    int
}

// NewMockTrackerServer creates a new base mock server.
func NewMockTrackerServer() *MockTrackerServer {
	m := &MockTrackerServer{
		requests:  []RecordedRequest{},
		responses: make(map[string]MockResponse),
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

// handleRequest records the request and returns the configured response.
func (m *MockTrackerServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	unavailable := m.unavailable
	serverError := m.serverError
	transient := false
	if m.failCount < m.failRequests {
		m.failCount++
		transient = true
	}
	resp, found := m.responses[r.URL.Path]
	handler := m.defaultHandler
	m.mu.Unlock()

	if unavailable || transient {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"error": "Service unavailable"})
		return
	}

	if serverError {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]string{"error": "Internal server error"})
		return
	}

	if found {
		if resp.StatusCode != 0 {
			w.WriteHeader(resp.StatusCode)
		}
		if resp.Body != nil {
			writeJSON(w, resp.Body)
		}
		return
	}

	if handler != nil {
		handler(w, r, body)
		return
	}

	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]string{"error": "Not found"})
}

// URL returns the mock server URL.
func (m *MockTrackerServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockTrackerServer) Close() {
	m.Server.Close()
}

// SetResponse configures a response for a specific path.
func (m *MockTrackerServer) SetResponse(path string, statusCode int, body interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = MockResponse{
		StatusCode: statusCode,
		Body:       body,
	}
}

// SetDefaultHandler sets the handler for requests without a configured response.
func (m *MockTrackerServer) SetDefaultHandler(handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = handler
}

// SetServerError enables/disables 500 Internal Server Error responses.
func (m *MockTrackerServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// SetUnavailable enables/disables 503 responses for every request.
func (m *MockTrackerServer) SetUnavailable(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = enabled
}

// FailNextRequests makes the next n requests fail with 503.
func (m *MockTrackerServer) FailNextRequests(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRequests = n
	m.failCount = 0
}

// GetRequests returns all recorded requests.
func (m *MockTrackerServer) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// GetRequestCount returns the number of recorded requests.
func (m *MockTrackerServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// ClearRequests clears all recorded requests.
func (m *MockTrackerServer) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = []RecordedRequest{}
}

// Helper functions

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

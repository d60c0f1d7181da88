// Package testserver emulates the OTAS platform (authentication + ingest
// endpoints) for integration tests.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	otas "github.com/Anirudh-RV/otas-go/otas"
)

const (
	authPath   = "/api/sdk/authenticate"
	ingestPath = "/api/sdk/ingest"
)

// MockServer accepts authentication and ingest calls, validating the SDK key
// header on both.
type MockServer struct {
	sdkKey    string
	projectID string

	srv *httptest.Server

	mu            sync.Mutex
	events        []otas.EventRecord
	agentTokens   []string
	authStatus    int // application-level status returned by the auth endpoint
	ingestReplies []int

	eventCh chan otas.EventRecord
}

// Start boots a mock platform that accepts sdkKey and reports projectID.
func Start(sdkKey, projectID string) *MockServer {
	ms := &MockServer{
		sdkKey:     sdkKey,
		projectID:  projectID,
		authStatus: 1,
		eventCh:    make(chan otas.EventRecord, 100),
	}
	ms.srv = httptest.NewServer(http.HandlerFunc(ms.handle))
	return ms
}

func (m *MockServer) Stop() {
	m.srv.Close()
}

// AuthEndpoint returns the mock authentication URL.
func (m *MockServer) AuthEndpoint() string {
	return m.srv.URL + authPath
}

// IngestEndpoint returns the mock ingest URL.
func (m *MockServer) IngestEndpoint() string {
	return m.srv.URL + ingestPath
}

// RejectAuth makes subsequent authentication calls fail with the given
// application-level status.
func (m *MockServer) RejectAuth(status int) {
	m.mu.Lock()
	m.authStatus = status
	m.mu.Unlock()
}

// QueueIngestReplies sets the HTTP status codes for upcoming ingest calls,
// consumed in order; afterwards the server goes back to 200s.
func (m *MockServer) QueueIngestReplies(codes ...int) {
	m.mu.Lock()
	m.ingestReplies = append(m.ingestReplies, codes...)
	m.mu.Unlock()
}

// Events returns a copy of every accepted event.
func (m *MockServer) Events() []otas.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]otas.EventRecord(nil), m.events...)
}

// AgentTokens returns the X-OTAS-AGENT-ID header values seen on accepted
// ingest calls, "" for calls without the header.
func (m *MockServer) AgentTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.agentTokens...)
}

// WaitForEvent blocks until an event is accepted or the timeout elapses.
func (m *MockServer) WaitForEvent(timeout time.Duration) (otas.EventRecord, error) {
	select {
	case evt := <-m.eventCh:
		return evt, nil
	case <-time.After(timeout):
		return otas.EventRecord{}, fmt.Errorf("no event received within %s", timeout)
	}
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case authPath:
		m.handleAuth(w, r)
	case ingestPath:
		m.handleIngest(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	status := m.authStatus
	m.mu.Unlock()

	if r.Header.Get(otas.SDKKeyHeader) != m.sdkKey {
		status = 0
	}

	body := map[string]any{
		"status":             status,
		"status_description": "invalid sdk key",
	}
	if status == 1 {
		body = map[string]any{
			"status": 1,
			"response": map[string]any{
				"project": map[string]any{
					"id":          m.projectID,
					"name":        "mock project",
					"description": "test fixture",
				},
			},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (m *MockServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(otas.SDKKeyHeader) != m.sdkKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event otas.EventRecord
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	status := http.StatusOK
	if len(m.ingestReplies) > 0 {
		status = m.ingestReplies[0]
		m.ingestReplies = m.ingestReplies[1:]
	}
	if status >= 200 && status < 400 {
		m.events = append(m.events, event)
		m.agentTokens = append(m.agentTokens, r.Header.Get(otas.AgentTokenHeader))
		select {
		case m.eventCh <- event:
		default:
		}
	}
	m.mu.Unlock()

	w.WriteHeader(status)
}

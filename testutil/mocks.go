// Package testutil holds shared fixtures: migrated stores and a fake Twitch API.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer is a fake Helix and OAuth server. Requests are routed by path.
type MockTwitchServer struct {
	*httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	whispers []Whisper
}

// Whisper is a recorded POST /helix/whispers call.
type Whisper struct {
	From, To, Message, Authorization string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for an exact path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// HTTPClient returns a client that sends every request, whatever its host, to the mock.
func (m *MockTwitchServer) HTTPClient() *http.Client {
	return &http.Client{Transport: &rewriteTransport{host: strings.TrimPrefix(m.URL, "http://")}}
}

// MockUserResponse answers /helix/users with a single user.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": userID, "login": login}}})
	})
}

// MockWhispers accepts /helix/whispers and records each call.
func (m *MockTwitchServer) MockWhispers() {
	m.Handle("/helix/whispers", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		q := r.URL.Query()
		m.mu.Lock()
		m.whispers = append(m.whispers, Whisper{
			From:          q.Get("from_user_id"),
			To:            q.Get("to_user_id"),
			Message:       payload.Message,
			Authorization: r.Header.Get("Authorization"),
		})
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
}

// Whispers returns the whispers received so far.
func (m *MockTwitchServer) Whispers() []Whisper {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Whisper(nil), m.whispers...)
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

type rewriteTransport struct{ host string }

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

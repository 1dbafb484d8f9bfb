package healthapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distacean/distacean/pkg/node"
	"github.com/distacean/distacean/pkg/types"
)

func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	n, err := node.NewNode(types.ClusterConfig{
		NodeID:    1,
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Shutdown() })
	require.Eventually(t, n.IsLeader, 5*time.Second, 10*time.Millisecond)
	return n
}

func TestHealthHandlerMethods(t *testing.T) {
	hs := NewServer(nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET succeeds", http.MethodGet, http.StatusOK},
		{"POST fails", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT fails", http.MethodPut, http.StatusMethodNotAllowed},
		{"DELETE fails", http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.False(t, response.Timestamp.IsZero())
			}
		})
	}
}

func TestReadyHandlerNilNode(t *testing.T) {
	hs := NewServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Checks["raft"], "not initialized")
	assert.Contains(t, response.Checks["storage"], "not initialized")
	assert.NotEmpty(t, response.Message)
}

func TestReadyHandlerMethodValidation(t *testing.T) {
	hs := NewServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestReadyHandlerLeaderIsReady(t *testing.T) {
	n := newTestNode(t)
	hs := NewServer(n)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "leader", response.Checks["raft"])
	assert.Equal(t, "ok", response.Checks["storage"])
}

func TestLiveHandlerAlwaysOK(t *testing.T) {
	hs := NewServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	w := httptest.NewRecorder()
	hs.liveHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestNewServerRoutes(t *testing.T) {
	hs := NewServer(nil)
	require.NotNil(t, hs)
	require.NotNil(t, hs.mux)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/live", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.mux.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "path: %s", tt.path)
		})
	}
}

func TestHandlerServesHealth(t *testing.T) {
	hs := NewServer(nil)
	handler := hs.Handler()
	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandlerConcurrency(t *testing.T) {
	hs := NewServer(nil)
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			hs.healthHandler(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

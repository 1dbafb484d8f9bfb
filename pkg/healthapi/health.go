// Package healthapi exposes liveness, readiness, and metrics endpoints for
// a running node over plain net/http.
package healthapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/distacean/distacean/pkg/metrics"
	"github.com/distacean/distacean/pkg/node"
)

// Server provides HTTP health check endpoints over a *node.Node.
type Server struct {
	node      *node.Node
	mux       *http.ServeMux
	startTime time.Time
}

// NewServer creates a new health check HTTP server. n may be nil, in which
// case /ready always reports not ready.
func NewServer(n *node.Node) *Server {
	mux := http.NewServeMux()
	hs := &Server{
		node:      n,
		mux:       mux,
		startTime: time.Now(),
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", hs.liveHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server. It blocks until the server
// stops or returns an error.
func (hs *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint: a liveness check that
// returns 200 as long as the process is serving HTTP at all.
func (hs *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint: checks whether the node has
// a known Raft leader and can read its own state store.
func (hs *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.node != nil {
		if hs.node.IsLeader() {
			checks["raft"] = "leader"
		} else {
			leaderAddr := hs.node.LeaderAddr()
			if leaderAddr != "" {
				checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
			} else {
				checks["raft"] = "no leader elected"
				ready = false
				message = "Waiting for leader election"
			}
		}
	} else {
		checks["raft"] = "not initialized"
		ready = false
		message = "Node not initialized"
	}

	if hs.node != nil {
		if _, _, err := hs.node.Get("__healthapi_readiness_probe__"); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// liveHandler implements the /live endpoint: it reports the process as
// alive unconditionally, unlike /ready which depends on Raft and storage.
func (hs *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": time.Since(hs.startTime).String(),
	})
}

// Handler returns the HTTP handler for embedding in other servers.
func (hs *Server) Handler() http.Handler {
	return hs.mux
}

package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/rally/internal/relay"
)

// Pinger checks substrate connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides the HTTP health check endpoint for a peer.
type HealthServer struct {
	pinger   Pinger
	relay    *relay.Relay
	agent    string
	network  string
	server   *http.Server
	listener net.Listener
}

// NewHealthServer creates a health server reporting on pinger and, if set,
// the relay's bus and latency counters.
func NewHealthServer(pinger Pinger, r *relay.Relay, agent, network string) *HealthServer {
	return &HealthServer{pinger: pinger, relay: r, agent: agent, network: network}
}

// Start binds addr and serves /healthz in the background.
func (h *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind health endpoint %s: %w", addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[Peer] Health server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *HealthServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the substrate answers a ping, 503 otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "healthy",
		Agent:   h.agent,
		Network: h.network,
	}
	if h.relay != nil {
		response.DroppedSignals = h.relay.Bus().Dropped()
		response.Latency = h.relay.Latency().Snapshot()
	}

	status := http.StatusOK
	if err := h.pinger.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Backend = "disconnected"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		response.Backend = "connected"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status         string                            `json:"status"`
	Backend        string                            `json:"backend,omitempty"`
	Agent          string                            `json:"agent,omitempty"`
	Network        string                            `json:"network,omitempty"`
	DroppedSignals uint64                            `json:"dropped_signals"`
	Latency        map[relay.Kind]relay.LatencyStats `json:"latency,omitempty"`
	Error          string                            `json:"error,omitempty"`
}

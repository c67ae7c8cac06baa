package telemetry

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ReadyFunc reports whether the process is ready to receive work (e.g. bus
// connectivity established, provider constructed).
type ReadyFunc func() bool

// Server is the small net/http server every worker runs for /health,
// /ready, and /metrics, matching the bare http.ServeMux pattern used by
// cmd/agentd's main.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the health/ready/metrics mux and binds it to port.
func NewServer(port int, metrics *Metrics, ready ReadyFunc) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "not ready\n", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if metrics == nil {
			_, _ = w.Write([]byte("{}"))
			return
		}
		_ = json.NewEncoder(w).Encode(metrics.Snapshot())
	})

	return &Server{httpServer: &http.Server{
		Addr:    portAddr(port),
		Handler: mux,
	}}
}

// Start runs the server in a background goroutine and logs any error other
// than the expected http.ErrServerClosed on shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health_server_error")
		}
	}()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}

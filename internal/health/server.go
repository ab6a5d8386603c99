package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/jackpotd/internal/resilience"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor  *Monitor
	breakers *resilience.Registry
	server   *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, breakers *resilience.Registry, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor:  monitor,
		breakers: breakers,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	status := StatusHealthy

	// Aggregate status (worst case wins)
	for _, c := range report {
		if c.Status == StatusCritical {
			status = StatusCritical
			break
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	type detailed struct {
		Components map[string]ComponentReport `json:"components"`
		Breakers   map[string]string          `json:"breakers"`
	}

	out := detailed{
		Components: s.monitor.CheckHealth(r.Context()),
		Breakers:   make(map[string]string),
	}
	if s.breakers != nil {
		for name, state := range s.breakers.States() {
			out.Breakers[name] = state.String()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Package server provides the operational HTTP surface of the service:
// the aggregated health endpoint and Prometheus metrics, with graceful
// lifecycle management.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const checkTimeout = 5 * time.Second

// Check probes one backing dependency. A nil Probe marks the dependency
// as disabled by configuration: it is reported but never fails the
// endpoint.
type Check struct {
	Name     string
	Probe    func(ctx context.Context) error
	Required bool
}

// HTTPProbe returns a probe that considers the dependency healthy when
// the URL answers at all. The status code is irrelevant: an auth error
// still proves the service is up.
func HTTPProbe(url string) func(ctx context.Context) error {
	client := &http.Client{Timeout: checkTimeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// Server serves /health and /metrics.
type Server struct {
	host   string
	port   int
	checks []Check
	logger *slog.Logger
}

func New(host string, port int, checks []Check, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{host: host, port: port, checks: checks, logger: logger}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Components: map[string]string{}}
	for _, check := range s.checks {
		if check.Probe == nil {
			resp.Components[check.Name] = "disabled"
			continue
		}
		if err := check.Probe(ctx); err != nil {
			resp.Components[check.Name] = fmt.Sprintf("unhealthy: %v", err)
			if check.Required {
				resp.Status = "unhealthy"
			}
			continue
		}
		resp.Components[check.Name] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// Start begins serving and returns the actual listen address, which is
// useful for testing with port 0. The server shuts down gracefully when
// the context is canceled.
func (s *Server) Start(ctx context.Context) (string, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server: serve failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server: shutdown failed", "error", err)
		}
	}()

	s.logger.Info("server: listening", "addr", actualAddr)
	return actualAddr, nil
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fuad-daoud/guildkit/client"
	"github.com/fuad-daoud/guildkit/logger/dlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/context"
)

type StatusFunc func() client.Status

type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer serves the client status on /status and the collectors of
// gatherer on /metrics. A nil gatherer serves the default registry.
func NewServer(addr string, status StatusFunc, gatherer prometheus.Gatherer) *Server {
	s := &Server{logger: dlog.Logger().With("component", "http")}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(status, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler(status StatusFunc, gatherer prometheus.Gatherer) http.Handler {
	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/status", s.statusHandler(status))
	mux.Handle("/metrics", metricsHandler)
	return mux
}

// ListenAndServe blocks until ctx is done, then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("Could not serve", "addr", s.server.Addr, "err", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// statusHandler answers 503 while the event stream is not connected.
func (s *Server) statusHandler(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logRequest(r)
		st := status()
		w.Header().Set("Content-Type", "application/json")
		if st.State != "connected" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(st); err != nil {
			s.logger.Error("Could not write status", "err", err)
		}
	}
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	s.logRequest(r)
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, "guildkit: see /status and /metrics\n")
}

func (s *Server) logRequest(r *http.Request) {
	s.logger.Debug("Got request", "method", r.Method, "uri", r.RequestURI)
}

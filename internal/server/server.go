// Package server exposes the carrier-facing HTTP surface of the bridge: the
// call instruction document, the status webhook, the media-stream WebSocket
// endpoint, and the health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/trunkline/internal/call"
	"github.com/MrWong99/trunkline/internal/health"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/pkg/provider/telephony"
)

const (
	// drainTimeout bounds how long shutdown waits for active calls to
	// reach their terminal state before the process exits anyway.
	drainTimeout = 15 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Server is the carrier-facing HTTP server. It owns no call state; all call
// logic lives in the [call.Manager].
type Server struct {
	addr    string
	mgr     *call.Manager
	tel     telephony.Provider
	metrics *observe.Metrics
	log     *slog.Logger

	health *health.Handler
	http   *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithHealthHandler replaces the default health handler, e.g. to add
// readiness checkers for the configured providers.
func WithHealthHandler(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wires request metrics and the /metrics scrape endpoint.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server listening on addr that routes carrier traffic to mgr.
func New(addr string, mgr *call.Manager, tel telephony.Provider, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		mgr:  mgr,
		tel:  tel,
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = health.New(map[string]string{"phone": tel.Name()}, mgr.Active)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Run serves HTTP until ctx is cancelled, then drains: active calls are
// ended (best-effort hangup and resource release) and in-flight requests are
// given drainTimeout to complete.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen on %s: %w", s.addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()

		s.log.Info("shutting down, ending active calls", "active", s.mgr.Active())
		s.mgr.EndAll(drainCtx)
		return s.http.Shutdown(drainCtx)
	})

	return g.Wait()
}

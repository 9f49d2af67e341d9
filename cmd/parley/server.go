package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
)

// statusServer serves /metrics, the health checks and the live session
// status on cfg.Server.ListenAddr.
type statusServer struct {
	srv *http.Server
	ln  net.Listener
}

func newStatusServer(addr string, tel *observe.Telemetry, h *health.Handler) (*statusServer, error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.Handler())
	h.Register(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &statusServer{
		ln: ln,
		srv: &http.Server{
			Handler:           observe.Middleware(tel.Metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Addr is the bound address, useful when the configured port is 0.
func (s *statusServer) Addr() string { return s.ln.Addr().String() }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *statusServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("status server listening", "addr", s.Addr())
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/grandcat/zeroconf"
)

const shutdownTimeout = 5 * time.Second

// Server runs a Hub behind an HTTP server.
type Server struct {
	Addr string

	// Advertise publishes the relay on the local network over mDNS.
	Advertise bool

	Logger *slog.Logger
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := NewHub(logger)
	go hub.Run(ctx)

	srv := &http.Server{
		Handler:           NewRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		mdns, err := advertise(port)
		if err != nil {
			logger.Warn("mDNS advertisement failed", "err", err)
		} else {
			defer mdns.Shutdown()
			logger.Info("advertising relay", "service", signaling.ServiceType, "port", port)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("relay listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func advertise(port int) (*zeroconf.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "relay"
	}
	return zeroconf.Register("warpcall-"+host, signaling.ServiceType, "local.", port, []string{"path=/ws"}, nil)
}

package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type Server struct {
	log *logger.Logger
	srv *http.Server
}

func New(cfg config.HTTPConfig, log *logger.Logger, h http.Handler) *Server {
	if cfg.MaxRequestBytes > 0 {
		h = http.MaxBytesHandler(h, cfg.MaxRequestBytes)
	}
	return &Server{
		log: log.With("service", "HTTPServer"),
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration,
			IdleTimeout:       cfg.IdleTimeout.Duration,
		},
	}
}

func (s *Server) Addr() string { return s.srv.Addr }

// Serve blocks until the listener fails or Shutdown is called. A clean
// shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("HTTP server listening", "addr", ln.Addr().String())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.srv.Shutdown(ctx)
}

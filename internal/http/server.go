package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/nelsonblaha/homepage/internal/config"
	"github.com/nelsonblaha/homepage/internal/observability/logger"
	"go.uber.org/zap"
)

// Server envuelve http.Server con timeouts de config y apagado ordenado.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

func NewServer(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  config.Dur(cfg.Server.ReadTimeout),
			WriteTimeout: config.Dur(cfg.Server.WriteTimeout),
			IdleTimeout:  config.Dur(cfg.Server.IdleTimeout),
		},
		log: logger.L().Named("http"),
	}
}

// Start bloquea hasta que el server cae o recibe Shutdown.
func (s *Server) Start() error {
	s.log.Info("escuchando", logger.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drena conexiones en curso hasta que el ctx expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("apagando")
	return s.srv.Shutdown(ctx)
}

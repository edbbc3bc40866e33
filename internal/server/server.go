package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// Server runs an App over HTTP or HTTPS until a shutdown signal arrives
type Server struct {
	config     *config.Config
	app        *App
	httpServer *http.Server
	logger     *logger.ComponentLogger
}

// New creates a new server instance
func New(cfg *config.Config, app *App) *Server {
	return &Server{
		config: cfg,
		app:    app,
		logger: logger.Get().WithComponent("server"),
	}
}

// Start serves requests and blocks until shutdown completes or the
// listener fails
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:        s.app.Handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}
	if s.config.Server.TLSEnabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.X25519,
				tls.CurveP256,
			},
		}
	}

	errChan := make(chan error, 2)

	go func() {
		s.logger.Info("starting HTTP server", logger.Fields{
			"port": s.config.Server.HTTPPort,
			"tls":  s.config.Server.TLSEnabled,
		})
		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go s.handleShutdown(errChan)

	return <-errChan
}

// handleShutdown waits for SIGINT or SIGTERM, drains in-flight requests
// and releases the app's backends
func (s *Server) handleShutdown(errChan chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	s.logger.Info("shutdown signal received", logger.Fields{
		"signal": sig.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	errChan <- s.Shutdown(ctx)
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// the app
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating server shutdown")

	var shutdownErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if err := s.app.Close(ctx); err != nil {
		s.logger.Error("failed to close application", logger.Fields{
			"error": err.Error(),
		})
		if shutdownErr == nil {
			shutdownErr = err
		}
	}

	s.logger.Info("server shutdown complete")
	return shutdownErr
}

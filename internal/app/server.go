package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vk/stagegrid/internal/api"
	"github.com/vk/stagegrid/internal/ctxlog"
)

// startHTTPServer binds the listen address and serves the API in the
// background. The returned channel receives the error that stopped the
// server, if any.
func (a *App) startHTTPServer() (net.Addr, <-chan error, error) {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Configuring HTTP server.")

	if a.config.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(a.orch, a.metrics.Handler(), a.logger)

	ln, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return nil, nil, err
	}
	a.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌐 HTTP server starting", "address", ln.Addr().String())
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed unexpectedly", "error", err)
			errCh <- err
		}
		close(errCh)
	}()
	return ln.Addr(), errCh, nil
}

func (a *App) closeHTTPServer() error {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Closing HTTP server...")

	if a.httpServer == nil {
		logger.Debug("HTTP server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("🌐 Shutting down HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
		return err
	}

	logger.Debug("HTTP server shut down gracefully.")
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vk/stagegrid/internal/catalog"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/orchestrator"
)

// Serve runs the HTTP API until ctx is cancelled, then stops live runs and
// releases every resource. ready, when non-nil, receives the bound address
// once the server accepts connections.
func (a *App) Serve(ctx context.Context, ready chan<- net.Addr) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Serve method started.")

	addr, serveErr, err := a.startHTTPServer()
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("starting HTTP server: %w", err)
	}
	if ready != nil {
		ready <- addr
	}

	if a.config.WatchDefinitions {
		go func() {
			if err := a.catalog.Watch(ctx, catalog.DefaultDebounce, nil); err != nil {
				a.logger.Error("Definition watcher stopped.", "error", err)
			}
		}()
	}

	a.logger.Info("🚀 stagegrid ready.", "definitions", a.catalog.Len())
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	httpErr := a.closeHTTPServer()
	closeErr := a.Close(context.Background())
	a.logger.Info("🏁 stagegrid stopped.")
	return errors.Join(runErr, httpErr, closeErr)
}

// RunOnce submits a single run of definitionID, waits for it and returns its
// final status. Cancelling ctx cancels the run.
func (a *App) RunOnce(ctx context.Context, definitionID string, inputs map[string]any, trigger config.Trigger) (*orchestrator.Status, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("Closing application failed.", "error", err)
		}
	}()

	runID, err := a.orch.SubmitRun(ctx, definitionID, inputs, trigger)
	if err != nil {
		return nil, err
	}

	status, err := a.orch.Wait(ctx, runID)
	if err == nil {
		return status, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}

	a.logger.Warn("⏸️ Interrupted, cancelling run.", "run", runID)
	bg := ctxlog.WithLogger(context.Background(), a.logger)
	if err := a.orch.CancelRun(bg, runID); err != nil {
		return nil, err
	}
	return a.orch.Wait(bg, runID)
}

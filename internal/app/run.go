package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/config"
	"automation-engine/internal/server"
)

// Serve runs the engine until SIGINT, SIGTERM or a server failure, then shuts
// down within cfg.ShutdownTimeout.
func Serve(cfg *config.Config, version string) error {
	logging.Info("Starting automation engine",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: version},
		logging.Field{Key: "timezone", Value: cfg.Timezone},
	)

	ctx := context.Background()
	app, err := New(ctx, cfg, version)
	if err != nil {
		logging.Error("Failed to initialize engine", err)
		return err
	}
	defer app.Close()

	srv := server.New(app.Handler(), ":"+cfg.Port, "", "")
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	logging.Info("HTTP server listening", logging.String("addr", srv.Addr()))

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start background loops", err)
		srv.Shutdown(ctx)
		return err
	}

	// Wait for interrupt signal or a serve error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		logging.Info("Shutting down", logging.String("signal", sig.String()))
	case serveErr = <-srv.Errors():
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before the loops so no new work is queued
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Background loops did not stop in time", logging.Err(err))
	}

	logging.Info("Automation engine exited")
	return serveErr
}

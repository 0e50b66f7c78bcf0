// Command bridge-http runs the HTTP transport of the chatgpt bridge: an
// OpenAI-compatible chat-completions surface backed by OS-accessibility
// automation of a desktop chat client.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatgpt-bridge/bridge/internal/bootstrap"
	"github.com/chatgpt-bridge/bridge/internal/httpapi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	built, err := bootstrap.Build(logger)
	if err != nil {
		slog.Error("failed to initialize bridge", "error", err)
		os.Exit(1)
	}
	defer built.Cleanup()

	cfg := built.Config

	mux := httpapi.NewRouter(&httpapi.Server{
		Engine:   built.Engine,
		Config:   cfg,
		Metrics:  built.Metrics,
		Progress: built.Progress,
	})

	jobTimeout := time.Duration(cfg.JobTimeoutMS) * time.Millisecond
	srv := &http.Server{
		Addr:              cfg.HTTPHost + ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE streaming requires no write deadline
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: jobTimeout + 6*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("bridge listening", "addr", srv.Addr, "mode", cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("bridge stopped")
}

package main

import (
	"log/slog"
	"os"

	"github.com/chatgpt-bridge/bridge/internal/bootstrap"
	"github.com/chatgpt-bridge/bridge/internal/core"
)

// buildEngine wires the shared Engine the same way the HTTP transport
// does, via internal/bootstrap, and logs to stderr so stdout stays
// reserved for response lines.
func buildEngine() (*core.Engine, func(), error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	built, err := bootstrap.Build(logger)
	if err != nil {
		return nil, func() {}, err
	}
	return built.Engine, built.Cleanup, nil
}

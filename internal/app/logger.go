package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger shared by the API server and the
// worker. LOG_FORMAT=json selects the JSON handler for deployed
// environments; anything else gets the text handler for local reading.
// Non-production runs log at debug so guard rejections and cache misses
// show up while developing.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

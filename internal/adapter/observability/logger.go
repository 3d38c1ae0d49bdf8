// Package observability provides logging, metrics, and tracing for the
// verification services.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
)

// SetupLogger builds the process-wide slog logger. Dev gets debug-level text
// with source locations; prod and test ship JSON for ingestion.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	var h slog.Handler
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}

// Package telemetry provides the ambient logging, metrics, and health/ready
// HTTP surface shared by every worker process, following the pattern of an
// internal/observability package.
package telemetry

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes zerolog with sane defaults, then attaches the
// worker's service name as a static field on the global logger. If logPath
// is non-empty, logs are written to that file instead of stdout; a failure
// to open it falls back to stdout with a message on stderr.
func InitLogger(serviceName, logPath, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = log.Output(w).With().Timestamp().Str("service", serviceName).Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

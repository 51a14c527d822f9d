// Package agentlog provides the process-wide structured logger and the
// best-effort error propagation helper used at tick and cleanup boundaries.
package agentlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Config controls logger construction.
type Config struct {
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Safe to call once at process start.
func Init(cfg Config) {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func init() {
	Init(Config{})
}

// WithComponent returns a child logger tagged with the owning component name,
// e.g. "linkmgr", "iptables", "reconcile".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNamespace returns a child logger tagged with the netns name.
func WithNamespace(ns string) zerolog.Logger {
	return Logger.With().Str("ns", ns).Logger()
}

// BestEffort logs err at warn level and swallows it, for cleanup-style
// operations that tolerate failure (rule flush, unit stop, temp-file
// unlink). It never returns an error itself.
func BestEffort(log zerolog.Logger, op string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("best-effort operation failed, continuing")
	}
}

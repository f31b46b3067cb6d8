package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger: human readable in development, JSON elsewhere.
func NewLogger(service, env string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().Timestamp().Str("service", service).Logger()
	}

	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", service).Logger()
}

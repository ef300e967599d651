// Package logging builds the process-wide zerolog logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output vs. JSON
}

// New builds a base logger. Every component should derive its own logger from
// this one via .With().Str("component", ...).Logger() rather than reading the
// global zerolog logger directly.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out = os.Stdout
	if cfg.Pretty {
		writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Package logging builds the structured logger shared by both binaries.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Config selects the logger's minimum level and output encoding.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a zerolog.Logger configured for the given level and format.
//
// JSON output is the default (Loki/structured-log-shipper friendly);
// "pretty" switches to zerolog.ConsoleWriter for local development.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

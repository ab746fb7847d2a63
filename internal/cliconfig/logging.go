package cliconfig

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger returns the CLI logger: human-readable output on stderr at the
// configured level.
func Logger(cfg Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: cfg.NoColor}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

// Package observability holds the logging setup shared by the daemon and
// the CLI commands.
package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide logger. Interactive runs get the
// console writer; set json to true when the output is scraped.
func InitLogger(app, level string, json bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if json {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	logger = logger.Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

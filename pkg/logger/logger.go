// Package logger builds the zerolog instance shared across the Delfos
// campaign core. Every line carries a service field so log aggregation can
// tell the core apart from its sidecars.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultService is the service field stamped on every log line
const DefaultService = "delfos-core"

// Config holds logger configuration
type Config struct {
	Level   string // debug, info, warn, error
	Pretty  bool   // console writer for dev mode, JSON otherwise
	Service string // overrides DefaultService when set
}

// New creates the process logger and installs it as the zerolog package
// default. Unknown levels fall back to info so a misspelled LOG_LEVEL never
// silences the process.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	l := zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
	log.Logger = l
	return l
}

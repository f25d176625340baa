// Package observability builds the diagnostic logger for the CLI and the
// client library. All log output is routed to stderr so that stdout carries
// nothing but session output — lines returned by the remote server.
package observability

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/diotteo/telnetclient/internal/config"
)

// Escalate raises the configured log level to debug when the debug flag is
// set or any -v flags were given. Verbosity never lowers the level below
// what the configuration asks for.
//
// Postcondition: Returns cfg unchanged unless an escalation applies.
func Escalate(cfg config.LoggingConfig, debug bool, verbosity int) config.LoggingConfig {
	if debug || verbosity > 0 {
		cfg.Level = "debug"
	}
	return cfg
}

// Build constructs the stderr logger described by cfg.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a logger whose output never mixes into stdout,
// or a non-nil error.
func Build(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core), nil
}

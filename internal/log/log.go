// Package log wraps zerolog with per-component child loggers.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global base logger instance.
var Logger zerolog.Logger

// Level is a supported log verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging initialization parameters.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// Init sets the global logger's level and output format. Call once at
// process start, before any component logger is derived.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSON {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// Component names used across Aegis's subsystems, kept as constants so
// call sites can't typo a logging scope.
const (
	CompBackup        = "backup"
	CompReplication   = "replication"
	CompHealth        = "health"
	CompFailover      = "failover"
	CompRecovery      = "recovery"
	CompCompliance    = "compliance"
	CompConfig        = "config"
	CompNotify        = "notify"
	CompCLI           = "cli"
	CompAPI           = "api"
)

// WithComponent returns a child logger tagged with the given component
// name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRegion returns a child logger additionally tagged with a region
// name, for the per-region sync tasks and failover orchestration.
func WithRegion(base zerolog.Logger, region string) zerolog.Logger {
	return base.With().Str("region", region).Logger()
}

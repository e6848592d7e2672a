// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logger provides structured logging using zerolog
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLogger zerolog.Logger

// Config controls the process logger. stdout is reserved for command output,
// so logs go to stderr unless configured otherwise.
type Config struct {
	Level      string `json:"level"`
	Debug      bool   `json:"debug"`
	Output     string `json:"output"`
	TimeFormat string `json:"time_format"`
	// Pretty selects the human-readable console writer
	Pretty bool `json:"pretty"`

	// Writer overrides Output when set
	Writer io.Writer `json:"-"`
}

// DefaultConfig returns warn-level pretty logging to stderr
func DefaultConfig() Config {
	return Config{
		Level:  "warn",
		Output: "stderr",
		Pretty: true,
	}
}

func init() {
	globalLogger = zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init replaces the process logger
func Init(config Config) error {
	output := config.Writer
	if output == nil {
		switch config.Output {
		case "", "stderr":
			output = os.Stderr
		case "stdout":
			output = os.Stdout
		default:
			return fmt.Errorf("unknown log output %q (use stdout or stderr)", config.Output)
		}
	}

	level := zerolog.InfoLevel
	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	if config.Pretty {
		cw := zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
		if config.Writer != nil {
			cw.NoColor = true
		}
		output = cw
	}

	globalLogger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = globalLogger

	return nil
}

// SetLevel changes the process log level
func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

// GetLogger returns the process logger
func GetLogger() zerolog.Logger {
	return globalLogger
}

// WithComponent returns a child logger tagged with a component name
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}

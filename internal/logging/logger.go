package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/inaiurai/promptq/internal/config"
)

// Logger is the logger handed to every component at construction.
type Logger = logrus.FieldLogger

type Fields = logrus.Fields

// NewLogger creates a JSON logger with the level taken from LOG_LEVEL.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// Discard returns a logger that drops everything. Used by tests and the CLI.
func Discard() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

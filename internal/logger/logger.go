package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// Initialize sets up the logger with proper configuration. Level comes from
// LOG_LEVEL; output goes to stderr and, when possible, logs/server.log.
func Initialize() {
	log = logrus.New()

	var level logrus.Level
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		level = logrus.DebugLevel
	case "INFO":
		level = logrus.InfoLevel
	case "WARN":
		level = logrus.WarnLevel
	case "ERROR":
		level = logrus.ErrorLevel
	default:
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   true,
	})

	out := io.Writer(os.Stderr)
	if err := os.MkdirAll("logs", 0o755); err == nil {
		logFile, err := os.OpenFile("logs/server.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = io.MultiWriter(os.Stderr, logFile)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		}
	}
	log.SetOutput(out)
}

// GetLogger returns the configured logger instance.
func GetLogger() *logrus.Logger {
	if log == nil {
		Initialize()
	}
	return log
}

// WithProcess creates a logger with analysis process context.
func WithProcess(processID string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"process_id": processID,
		"component":  "job_service",
	})
}

// WithError creates a logger with error context.
func WithError(err error, component string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"error":     err.Error(),
		"component": component,
	})
}

// Log level convenience functions (with fields).
func Debug(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Debug(msg)
}

func Info(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Info(msg)
}

func Warn(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Warn(msg)
}

func Error(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Error(msg)
}

func Fatal(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Fatal(msg)
}

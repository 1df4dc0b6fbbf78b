// Package logging builds the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"drawl/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation policy. Acquisition and transcode attempts log subprocess
// stderr, so files grow fast; old segments compress well.
const (
	rotateMaxSizeMB = 50
	rotateBackups   = 5
	rotateMaxAgeDay = 14
)

// Configure builds the logger from the [logging] config section. The log
// file always receives output; stdout is teed in on top when enabled.
func Configure(cfg *config.Config) (*logrus.Logger, error) {
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(parseLevel(cfg.Logging.Level))
	logger.SetFormatter(formatterFor(cfg.Logging.Format))

	var out io.Writer = &lumberjack.Logger{
		Filename:   cfg.Paths.LogPath,
		MaxSize:    rotateMaxSizeMB,
		MaxBackups: rotateBackups,
		MaxAge:     rotateMaxAgeDay,
		Compress:   true,
	}
	if cfg.Logging.Stdout {
		out = io.MultiWriter(os.Stdout, out)
	}
	logger.SetOutput(out)
	return logger, nil
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func formatterFor(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

// NewTestLogger returns a silent logger for tests.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

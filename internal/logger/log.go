// Package logger configures the logrus logger shared by the CLI and the
// object file loader.
package logger

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"

	defaultLogFormat LogFormat    = LogFormatText
	defaultLogLevel  logrus.Level = logrus.InfoLevel
)

// DefaultLogger is the base logger. It is separate from the logrus standard
// logger so that libraries logging through logrus do not write unexpectedly.
var DefaultLogger = InitializeDefaultLogger()

// InitializeDefaultLogger returns a logrus Logger with a custom text formatter.
func InitializeDefaultLogger() *logrus.Logger {
	logger := logrus.New()
	f, _ := getFormatter(defaultLogFormat)
	logger.SetFormatter(f)
	logger.SetLevel(defaultLogLevel)
	return logger
}

func getFormatter(format LogFormat) (logrus.Formatter, error) {
	switch format {
	case LogFormatText:
		return &logrus.TextFormatter{
			DisableColors: true,
		}, nil
	case LogFormatJSON:
		return &logrus.JSONFormatter{}, nil
	default:
		return &logrus.TextFormatter{}, fmt.Errorf("invalid log format '%s'", string(format))
	}
}

// SetupLogging applies level and format to DefaultLogger and directs it to w.
// An empty level or format keeps the default.
func SetupLogging(level, format string, w io.Writer) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		DefaultLogger.SetLevel(lvl)
	}
	if format != "" {
		f, err := getFormatter(LogFormat(format))
		if err != nil {
			return err
		}
		DefaultLogger.SetFormatter(f)
	}
	if w != nil {
		DefaultLogger.SetOutput(w)
	}
	return nil
}

// GetLogger returns the logger used for subsystem-less messages.
func GetLogger() logrus.FieldLogger {
	return DefaultLogger
}

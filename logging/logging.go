package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the timestamp layout of every log line.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Configure sets the format and level of logger. Unknown levels fall back to
// info; an unknown format is an error.
func Configure(logger *logrus.Logger, format, level string) error {
	switch format {
	case "json":
		logger.Formatter = &logrus.JSONFormatter{TimestampFormat: TimestampFormat}
	case "text":
		logger.Formatter = &logrus.TextFormatter{TimestampFormat: TimestampFormat, FullTimestamp: true}
	case "":
		// keep the default
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logrusLevel = logrus.InfoLevel
	}
	logger.SetLevel(logrusLevel)
	return nil
}

// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init sets the standard logger's level and formatter. Unknown levels fall
// back to info; format "text" selects the text formatter, anything else JSON.
func Init(level, format string) {
	InitWithOutput(level, format, os.Stdout)
}

// InitWithOutput is Init with an explicit destination.
func InitWithOutput(level, format string, out io.Writer) {
	logrus.SetFormatter(Formatter(format))
	logrus.SetOutput(out)
	logrus.SetLevel(ParseLevel(level))
}

// Formatter returns the formatter for the given format name.
func Formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{FullTimestamp: true}
	}
	return &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// ParseLevel parses level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Component returns a logger tagged with the component name. A nil base uses
// the standard logger.
func Component(base logrus.FieldLogger, name string) logrus.FieldLogger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithField("component", name)
}

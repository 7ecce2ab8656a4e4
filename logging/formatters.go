package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewFormatter returns the logrus formatter for a configured format name.
// "json" selects structured output; anything else is human-readable text.
func NewFormatter(format string) logrus.Formatter {
	switch format {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}
	default:
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableQuote:    false,
		}
	}
}

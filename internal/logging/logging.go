package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const ServiceName = "disasterfeed"

// New returns a JSON logger at the named level. Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	return NewWithOutput(level, os.Stdout)
}

func NewWithOutput(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// ForService tags every entry with the service name.
func ForService(logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("service", ServiceName)
}

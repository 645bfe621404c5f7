// Package logging configures the process wide logrus logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const EnvLogLevel = "SML_LOG_LEVEL"

// Configure sets format and level of the standard logger. The level comes from
// SML_LOG_LEVEL, then the given level; verbose forces debug.
func Configure(level string, verbose bool) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)

	if env := os.Getenv(EnvLogLevel); env != "" {
		level = env
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if verbose && lvl < logrus.DebugLevel {
		lvl = logrus.DebugLevel
	}
	logrus.SetLevel(lvl)
	return nil
}

func ParseLevel(raw string) (logrus.Level, error) {
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "":
		return logrus.InfoLevel, nil
	case "off", "disabled", "none":
		return logrus.PanicLevel, nil
	default:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", raw, err)
		}
		return lvl, nil
	}
}

// For returns a logger tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

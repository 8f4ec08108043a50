// Package log is a thin structured-logging facade used by the pipeline
// driver to report per-function compilation events and diagnostics. It
// wraps logrus the way the wider corpus's service binaries do, so the core
// library stays silent by default (no output) unless a caller installs a
// logger via SetOutput/SetLevel.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts verbosity; the pipeline driver calls this from
// config.Config.Verbose.
func SetLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// FunctionCompiled records a successful per-function lowering+assembly pass.
func FunctionCompiled(function, target string, sizeBytes int) {
	logger.WithFields(logrus.Fields{
		"function": function,
		"target":   target,
		"bytes":    sizeBytes,
	}).Debug("function compiled")
}

// Diagnostic records a fatal or warning diagnostic surfaced by the pipeline.
func Diagnostic(function, kind, message string, fatal bool) {
	fields := logrus.Fields{
		"function": function,
		"kind":     kind,
	}
	if fatal {
		logger.WithFields(fields).Error(message)
	} else {
		logger.WithFields(fields).Warn(message)
	}
}

// Package xlog is the structured logging seam used by every package in this
// module. Call sites obtain their loggers here instead of constructing
// logrus loggers themselves, so configuring the backend or adding a hook
// happens in one place.
package xlog

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// Base returns the process-wide logger, configured once from environment
// variables (LOOP_LOG_LEVEL, LOOP_LOG_FORMAT=json|text).
func Base() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)

		level := logrus.InfoLevel
		if v := strings.TrimSpace(os.Getenv("LOOP_LOG_LEVEL")); v != "" {
			if parsed, err := logrus.ParseLevel(v); err == nil {
				level = parsed
			}
		}
		base.SetLevel(level)

		if strings.EqualFold(strings.TrimSpace(os.Getenv("LOOP_LOG_FORMAT")), "json") {
			base.SetFormatter(&logrus.JSONFormatter{})
		} else {
			base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
	})
	return base
}

// For returns an entry pre-tagged with a component name, the idiomatic
// logrus pattern used throughout this module's packages.
func For(component string) *logrus.Entry {
	return Base().WithField("component", component)
}

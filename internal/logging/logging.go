/* SPDX-License-Identifier: BSD-2-Clause */

// Package logging provides the pluggable logger used throughout the
// handler. Log format is not a stable interface; it exists only to give
// the operator a human-readable trail of handshake and fault activity.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a minimal interface for debug/error/fatal logging.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
	// Fatal logs msg at error level and terminates the process with a
	// non-zero exit code. Every fatal path in this handler funnels here.
	Fatal(msg string, args ...any)
}

// logrusLogger adapts a *logrus.Logger to the Logger interface.
type logrusLogger struct {
	l *logrus.Logger
}

// New returns a logrus-backed Logger writing to stdout in human-readable
// form. verbose raises the level to Debug; otherwise only Info and above
// are emitted.
func New(verbose bool) Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   false,
		TimestampFormat: "15:04:05.000",
	})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &logrusLogger{l: l}
}

func (r *logrusLogger) Debug(msg string, args ...any) {
	r.l.WithField("args", args).Debug(msg)
}

func (r *logrusLogger) Error(msg string, args ...any) {
	r.l.WithField("args", args).Error(msg)
}

func (r *logrusLogger) Fatal(msg string, args ...any) {
	r.l.WithField("args", args).Error(msg)
	os.Exit(1)
}

// LogFunc is a function type that implements Logger, kept for tests that
// want to capture calls without standing up a real logrus instance.
type LogFunc func(level, msg string, args ...any)

func (f LogFunc) Debug(msg string, args ...any) { f("DEBUG", msg, args...) }
func (f LogFunc) Error(msg string, args ...any) { f("ERROR", msg, args...) }
func (f LogFunc) Fatal(msg string, args ...any) { f("FATAL", msg, args...) }

// Noop discards all logs. Used in tests that don't care about output.
func Noop() Logger { return LogFunc(func(string, string, ...any) {}) }

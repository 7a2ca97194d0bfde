// Package klog formats the hypervisor's log lines the way the serial
// console collaborator expects: "[LEVEL] scope | message\n".
package klog

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Sink is the byte-oriented write target a Logger formats lines into.
// In a bare-metal build this would be the serial port; here it is
// whatever io.Writer the caller supplies, defaulting to os.Stderr.
type Sink interface {
	io.Writer
}

// lineFormatter renders "[LEVEL] scope | message\n", matching spec.md §6.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	scope, _ := e.Data["scope"].(string)
	if scope == "" {
		scope = "-"
	}
	level := levelTag(e.Level)
	line := fmt.Sprintf("[%s] %s | %s\n", level, scope, e.Message)
	return []byte(line), nil
}

func levelTag(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	default:
		return "ERR"
	}
}

// Logger is a scope-tagged wrapper around a logrus.Logger.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root Logger writing to sink at the given level
// ("debug", "info", "warn", or "err").
func New(sink Sink, level string) *Logger {
	if sink == nil {
		sink = os.Stderr
	}
	base := logrus.New()
	base.SetOutput(sink)
	base.SetFormatter(lineFormatter{})
	base.SetLevel(parseLevel(level))
	return &Logger{entry: logrus.NewEntry(base)}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "err", "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Scope returns a child Logger tagged with the given scope name.
func (l *Logger) Scope(scope string) *Logger {
	return &Logger{entry: l.entry.WithField("scope", scope)}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

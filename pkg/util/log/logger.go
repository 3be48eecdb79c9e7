// Package log is the levelled logger shared by logship packages. Components
// take a Logger at construction; the package level functions write through
// the default one.
package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levels = []logrus.Level{logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel}

// Fields is a set of structured fields attached to every line of a Logger.
type Fields = logrus.Fields

type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(err error)
	Errorf(format string, args ...interface{})
	WithFields(fields Fields) Logger
}

var (
	base          = newBase()
	globalLogger  = &entryLogger{entry: logrus.NewEntry(base)}
	sensitiveKeys = map[string]bool{"password": true, "auth": true, "secret": true, "token": true}
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.AddHook(redactHook{})
	return l
}

// New returns a Logger at level writing to out.
func New(level int, out io.Writer) Logger {
	l := newBase()
	l.SetLevel(toLogrus(level))
	l.SetOutput(out)
	return &entryLogger{entry: logrus.NewEntry(l)}
}

// Default returns the process wide logger.
func Default() Logger {
	return globalLogger
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return New(LevelError, io.Discard)
}

// ParseLevel maps a level name to its constant; unknown names map to LevelInfo.
func ParseLevel(name string) int {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func toLogrus(level int) logrus.Level {
	if level < LevelError {
		level = LevelError
	}
	if level > LevelDebug {
		level = LevelDebug
	}
	return levels[level]
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *entryLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *entryLogger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *entryLogger) Error(err error) {
	l.entry.Error(err.Error())
}

func (l *entryLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return &entryLogger{entry: l.entry.WithFields(fields)}
}

// redactHook masks the value of sensitive fields before any formatter sees them.
type redactHook struct{}

func (redactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (redactHook) Fire(e *logrus.Entry) error {
	for k := range e.Data {
		if sensitiveKeys[strings.ToLower(k)] {
			e.Data[k] = "[REDACTED]"
		}
	}
	return nil
}

func SetLevel(level int) {
	base.SetLevel(toLogrus(level))
}

func SetOutput(out io.Writer) {
	base.SetOutput(out)
}

func Info(format string, args ...interface{}) {
	globalLogger.Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	globalLogger.Warn(format, args...)
}

func Error(err error) {
	globalLogger.Error(err)
}

func Errorf(format string, args ...interface{}) {
	globalLogger.Errorf(format, args...)
}

func Debug(format string, args ...interface{}) {
	globalLogger.Debug(format, args...)
}

package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used by the resolver, the snapshot
// loader, the evaluator and the script bindings.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Fields are attached to every entry of a Logger. The "layer" and "kind"
// fields are printed first by the default formatter.
type Fields map[string]interface{}

// LoggerFactory creates the Logger of a component. fields and out may be
// nil, out is nil unless --log-dest was used.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus based default used for every
// Logger created afterwards. Passing nil restores the default.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// logrusLogger adapts a logrus entry to Logger.
type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

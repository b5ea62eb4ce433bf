package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var resolver = false
var snapshot = false
var eval = false
var script = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Resolver returns true if the TLS resolver should log.
func Resolver() bool {
	return resolver
}

// ResolverLogger returns a logger for the TLS resolver.
func ResolverLogger() Logger {
	return makeFlaggableLogger(resolver, Fields{"layer": "resolver"})
}

// Snapshot returns true if the snapshot loader should log.
func Snapshot() bool {
	return snapshot
}

// SnapshotLogger returns a logger for the snapshot loader.
func SnapshotLogger() Logger {
	return makeFlaggableLogger(snapshot, Fields{"layer": "core", "kind": "snapshot"})
}

// Eval returns true if expression evaluation should be logged.
func Eval() bool {
	return eval
}

func EvalLogger() Logger {
	return makeFlaggableLogger(eval, Fields{"layer": "proc", "kind": "eval"})
}

// Script returns true if starlark scripts should log the builtins they call.
func Script() bool {
	return script
}

func ScriptLogger() Logger {
	return makeFlaggableLogger(script, Fields{"layer": "script"})
}

// WriteError writes an error message to the log, regardless of the
// enabled components.
func WriteError(msg string) {
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "tlsvar-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "resolver"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "resolver":
			resolver = true
		case "snapshot":
			snapshot = true
		case "eval":
			eval = true
		case "script":
			script = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'tlsvar help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatterInstance is the default formatter used by loggers created
// by this package.
var textFormatterInstance = &textFormatter{}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level.String())
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "%v", layer)
		if kind, ok := entry.Data["kind"]; ok {
			fmt.Fprintf(b, "-%v", kind)
		}
		b.WriteByte(' ')
	}
	for k, v := range entry.Data {
		if k == "layer" || k == "kind" {
			continue
		}
		fmt.Fprintf(b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

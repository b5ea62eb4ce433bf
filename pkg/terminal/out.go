package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/tlsvar/pkg/proc"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// getColorableWriter returns a writer for stdout that understands ANSI
// escape codes, and whether colors should be used at all.
func getColorableWriter() (io.Writer, bool) {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return os.Stdout, false
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, false
	}
	return colorable.NewColorableStdout(), true
}

// transcriptWriter writes to w and also, optionally, to a buffered file.
type transcriptWriter struct {
	fileOnly bool
	w        io.Writer
	file     *bufio.Writer
	fh       io.Closer
}

func (w *transcriptWriter) Write(p []byte) (nn int, err error) {
	if !w.fileOnly {
		nn, err = w.w.Write(p)
	}
	if err == nil {
		if w.file != nil {
			return w.file.Write(p)
		}
	}
	return
}

// Echo outputs str only to the optional transcript file.
func (w *transcriptWriter) Echo(str string) {
	if w.file != nil {
		w.file.WriteString(str)
	}
}

// Flush flushes the optional transcript file.
func (w *transcriptWriter) Flush() {
	if w.file != nil {
		w.file.Flush()
	}
}

// CloseTranscript closes the optional transcript file.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	w.fileOnly = false
	err := w.fh.Close()
	w.file = nil
	w.fh = nil
	return err
}

// TranscribeTo starts transcribing the output to the specified file. If
// fileOnly is true the output will only go to the file, output to the
// io.Writer will be suppressed.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	if w.file != nil {
		w.CloseTranscript()
	}
	w.fh = fh
	w.file = bufio.NewWriter(fh)
	w.fileOnly = fileOnly
}

func statusColor(s proc.Status) int {
	switch s {
	case proc.Resolved:
		return ansiGreen
	case proc.NotInitialized:
		return ansiYellow
	default:
		return ansiRed
	}
}

// FormatResult formats the resolution of variable name for thread tid.
func FormatResult(name string, tid int, res proc.Result, color bool) string {
	status := res.Status.String()
	if color {
		status = fmt.Sprintf(terminalHighlightEscapeCode, statusColor(res.Status)) + status + terminalResetEscapeCode
	}
	if res.Status == proc.Resolved {
		return fmt.Sprintf("%s thread %d: %s %#x", name, tid, status, res.Addr)
	}
	return fmt.Sprintf("%s thread %d: %s: %v", name, tid, status, res.Err())
}

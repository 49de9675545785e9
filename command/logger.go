package command

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"m365cli/output"
)

// Logger is the only channel through which a command produces output.
type Logger interface {
	// Log writes a value to stdout, formatted for the output mode.
	Log(v any)
	// LogRaw writes a value to stdout without formatting.
	LogRaw(v any)
	// LogToStderr writes a value to stderr.
	LogToStderr(v any)
}

// StreamLogger writes command output to a pair of writers.
type StreamLogger struct {
	mu         sync.Mutex
	stdout     io.Writer
	stderr     io.Writer
	mode       string
	properties []string
}

// NewStreamLogger returns a StreamLogger formatting values for mode. properties limits
// text list output.
func NewStreamLogger(stdout, stderr io.Writer, mode string, properties []string) *StreamLogger {
	return &StreamLogger{
		stdout:     stdout,
		stderr:     stderr,
		mode:       mode,
		properties: properties,
	}
}

// Log meets the Logger interface.
func (l *StreamLogger) Log(v any) {
	s, err := output.Format(v, l.mode, l.properties)
	if err != nil {
		l.LogToStderr(err.Error())
		return
	}
	l.write(l.stdout, s)
}

// LogRaw meets the Logger interface.
func (l *StreamLogger) LogRaw(v any) {
	l.write(l.stdout, fmt.Sprint(v))
}

// LogToStderr meets the Logger interface.
func (l *StreamLogger) LogToStderr(v any) {
	l.write(l.stderr, fmt.Sprint(v))
}

func (l *StreamLogger) write(w io.Writer, s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(w, s+"\n")
}

// Capture is a Logger buffering output, used for nested invocation. Values are
// formatted as json.
type Capture struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
	*StreamLogger
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	c := &Capture{}
	c.StreamLogger = NewStreamLogger(&c.stdout, &c.stderr, output.JSON, nil)
	return c
}

// Output returns what has been captured so far.
func (c *Capture) Output() Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Output{Stdout: c.stdout.String(), Stderr: c.stderr.String()}
}

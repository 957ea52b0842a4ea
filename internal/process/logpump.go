package process

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
)

// LogPump reads line-buffered output from a child's stdout or stderr
// pipe and forwards each line to logger at a fixed level, the Go
// counterpart of the Python LogStream thread.
type LogPump struct {
	logger hclog.Logger
	level  hclog.Level
	reader io.Reader
	filter func(line string) string

	closed chan struct{}
}

// NewLogPump builds a pump that logs every line read from r at level,
// using logger to emit it. filter, when non-nil, is applied to each
// line before it reaches logger — the hook the sanitizer extension
// uses to mask secrets, since hclog has no sink-level filtering.
func NewLogPump(logger hclog.Logger, level hclog.Level, r io.Reader, filter func(string) string) *LogPump {
	return &LogPump{
		logger: logger,
		level:  level,
		reader: r,
		filter: filter,
		closed: make(chan struct{}),
	}
}

// Start launches the pump goroutine and returns immediately.
func (p *LogPump) Start() *LogPump {
	go p.run()
	return p
}

func (p *LogPump) run() {
	defer close(p.closed)

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n\t ")
		p.emit(line)
	}
	// A scan error still drains what was read; only the first one is
	// worth logging, further reads from a broken pipe all behave the
	// same way.
	if err := scanner.Err(); err != nil {
		p.logger.Error("log stream ended with error", "error", err)
	}
}

func (p *LogPump) emit(line string) {
	if p.filter != nil {
		line = p.filter(line)
	}
	if !utf8.ValidString(line) {
		p.logger.Error(fmt.Sprintf("%q", line))
		return
	}
	switch p.level {
	case hclog.Error:
		p.logger.Error(line)
	case hclog.Warn:
		p.logger.Warn(line)
	case hclog.Debug:
		p.logger.Debug(line)
	default:
		p.logger.Info(line)
	}
}

// WaitClose blocks until the pump has drained its reader to EOF, or
// timeout elapses, whichever comes first. It reports whether the pump
// closed before the deadline.
func (p *LogPump) WaitClose(timeout time.Duration) bool {
	select {
	case <-p.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

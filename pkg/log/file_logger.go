package log

import (
	"bufio"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger persists protocol events to a .wlog file: a plain
// concatenation of CBOR-encoded events. Writes are buffered; the
// buffer is flushed on Close. Safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	encoder *cbor.Encoder
	closed  bool
}

// NewFileLogger opens path for logging, appending if it already
// exists.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := bufio.NewWriter(file)
	return &FileLogger{
		file:    file,
		writer:  writer,
		encoder: NewEncoder(writer),
	}, nil
}

// Log implements Logger. Encoding and write errors are swallowed:
// logging must never disrupt the device loops.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_ = l.encoder.Encode(event)
}

// Flush forces buffered events to disk.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.writer.Flush()
}

// Close flushes and closes the file. Safe to call more than once;
// events logged after Close are dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	flushErr := l.writer.Flush()
	if closeErr := l.file.Close(); closeErr != nil {
		return closeErr
	}
	return flushErr
}

var _ Logger = (*FileLogger)(nil)

package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogWriter appends frames to a result log file.
type LogWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
}

// NewLogWriter opens or creates the log at path.
func NewLogWriter(path string) (*LogWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open result log: %w", err)
	}
	return &LogWriter{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
	}, nil
}

// WriteFrame appends one frame to the buffer.
func (l *LogWriter) WriteFrame(op byte, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.buf.Write(EncodeFrame(op, payload))
	return err
}

// Flush writes buffered frames to the file descriptor.
func (l *LogWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Flush()
}

// Sync flushes and fsyncs.
func (l *LogWriter) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.buf.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the file.
func (l *LogWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.buf.Flush(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// Truncate discards the log content.
func (l *LogWriter) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Reset(l.file)
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	_, err := l.file.Seek(0, 0)
	return err
}

// Path returns the file path.
func (l *LogWriter) Path() string {
	return l.path
}

// Record is one decoded frame.
type Record struct {
	Op      byte
	Payload []byte
}

// ReadAll decodes every frame of the log at path. A partial frame at the end
// of the file (an interrupted write) is ignored; any other corruption is
// returned along with the records read before it.
func ReadAll(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result log: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var out []Record
	for {
		op, payload, err := ReadFrame(r)
		if err == io.EOF || errors.Is(err, ErrIncompleteFrame) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("frame %d: %w", len(out), err)
		}
		out = append(out, Record{Op: op, Payload: payload})
	}
}

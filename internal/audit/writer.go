package audit

import (
	"io"
	"os"
	"sync"
)

// Writer writes audit events to a destination
type Writer interface {
	// Write writes an event
	Write(event Event) error

	// Close closes the writer
	Close() error
}

// streamWriter writes one encoded event per line
type streamWriter struct {
	out io.Writer
	mu  sync.Mutex
}

// NewStdoutWriter creates a writer emitting JSON lines on stdout
func NewStdoutWriter() Writer {
	return NewStreamWriter(os.Stdout)
}

// NewStreamWriter creates a writer emitting JSON lines on out
func NewStreamWriter(out io.Writer) Writer {
	return &streamWriter{out: out}
}

func (w *streamWriter) Write(event Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

// Close is a no-op; the stream belongs to the caller
func (w *streamWriter) Close() error {
	return nil
}

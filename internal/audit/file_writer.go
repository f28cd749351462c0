package audit

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation bounds the size and retention of the audit file
type Rotation struct {
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

type fileWriter struct {
	Writer
	file *lumberjack.Logger
}

// NewFileWriter appends JSON lines to path, rotating and compressing old
// files according to rot
func NewFileWriter(path string, rot Rotation) (Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxAge:     rot.MaxAgeDays,
		MaxBackups: rot.MaxBackups,
		LocalTime:  true,
		Compress:   true,
	}
	return &fileWriter{Writer: NewStreamWriter(file), file: file}, nil
}

func (w *fileWriter) Close() error {
	return w.file.Close()
}

// lastFileHash returns the hash of the newest chained event in the active
// audit file. A missing file starts a new chain. Rotated backups are not
// read, so a chain resumes from genesis right after a rotation.
func lastFileHash(path string) (string, error) {
	var last string
	err := scanFile(path, func(ev Event) {
		if h := ev.Meta().Hash; h != "" {
			last = h
		}
	})
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return last, err
}

// ReadFile decodes every event of an audit file in write order
func ReadFile(path string) ([]Event, error) {
	var events []Event
	if err := scanFile(path, func(ev Event) { events = append(events, ev) }); err != nil {
		return nil, err
	}
	return events, nil
}

func scanFile(path string, fn func(Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		ev, err := Decode(scanner.Bytes())
		if err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
		fn(ev)
	}
	return scanner.Err()
}

package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// WALRecord is one committed host operation.
type WALRecord struct {
	Height uint64 `json:"height"`
	Op     string `json:"op"`
	Detail any    `json:"detail,omitempty"`
}

// WAL receives one record per committed host operation. It is an audit
// trail, not a recovery source: state is restored from Pebble alone.
type WAL interface {
	Append(rec WALRecord) error
}

type NopWAL struct{}

func NewNopWAL() *NopWAL                  { return &NopWAL{} }
func (w *NopWAL) Append(WALRecord) error { return nil }

// FileWAL appends records as JSON lines and flushes after each one.
type FileWAL struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	return &FileWAL{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (w *FileWAL) Append(rec WALRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("wal append %s: %w", rec.Op, err)
	}
	return w.buf.Flush()
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

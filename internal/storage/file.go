package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dharsanguruparan/ragctl/internal/model"
)

// FileStore keeps the record in a JSON file readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore constructs a FileStore. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path reports where the record lives.
func (f *FileStore) Path() string {
	return f.path
}

// Get reads the record.
func (f *FileStore) Get(ctx context.Context) (model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("read session file: %w", err)
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.Record{}, fmt.Errorf("decode session file: %w", err)
	}
	if rec.Token == "" {
		return model.Record{}, ErrNotFound
	}
	return rec, nil
}

// Set writes the record through a temp file so a crash never leaves a
// half-written session behind.
func (f *FileStore) Set(ctx context.Context, rec model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the file. A missing file is not an error.
func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

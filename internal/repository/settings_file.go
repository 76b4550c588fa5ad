package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// FileSettingsStore keeps each settings document in <dir>/<key>.json.
type FileSettingsStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileSettingsStore(dir string) (*FileSettingsStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileSettingsStore{dir: dir}, nil
}

func (s *FileSettingsStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileSettingsStore) Load(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", s.path(key), err)
	}
	return true, nil
}

// Save replaces the document atomically through a temp file and rename.
func (s *FileSettingsStore) Save(ctx context.Context, key string, value any) error {
	raw, err := sonic.ConfigStd.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStorage persists the bearer token, the only piece of session state
// that survives a restart
type TokenStorage interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// MemoryStorage keeps the token for the life of the process
type MemoryStorage struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryStorage) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryStorage) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryStorage) Clear() error {
	return m.Save("")
}

// FileStorage keeps the token in a file readable only by the owner
type FileStorage struct {
	Path string
}

func (f FileStorage) Load() (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (f FileStorage) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token), 0o600)
}

func (f FileStorage) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

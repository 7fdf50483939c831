package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Skufu/DianaV2/internal/domain"
)

// FileStore — эталонная реализация Store: один JSON-файл на ключ
// в каталоге данных. Запись атомарная (tmp + rename), чтобы упавший
// процесс не оставил полузаписанный конфиг тестов.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "load", Key: key, Cause: err}
	}
	return data, nil
}

func (s *FileStore) Save(_ context.Context, key string, value []byte) error {
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Cause: err}
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Cause: err}
	}
	return nil
}

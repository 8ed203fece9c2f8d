package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// FileStore keeps bodies on the local filesystem.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) Upload(ctx context.Context, data []byte) (Info, error) {
	sum, hash := digest(data)
	path := filepath.Join(s.dir, objectKey("", hash))
	info := Info{URL: fileScheme + path, Digest: sum}

	if _, err := os.Stat(path); err == nil {
		return info, nil
	}

	tmp, err := os.CreateTemp(s.dir, hash+".*.tmp")
	if err != nil {
		return Info{}, fmt.Errorf("create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return Info{}, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return Info{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return Info{}, fmt.Errorf("commit blob: %w", err)
	}
	return info, nil
}

func (s *FileStore) Get(ctx context.Context, url string) ([]byte, error) {
	path, ok := strings.CutPrefix(url, fileScheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}
	if filepath.Dir(filepath.Clean(path)) != s.dir {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps each snapshot in its own file in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore in dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".snap")
}

// Save writes the snapshot to a temporary file and renames it into place,
// so a crash never leaves a partial snapshot under name.
func (s *FileStore) Save(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: saving %s: %w", name, err)
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.path(name))
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: saving %s: %w", name, err)
	}
	log.Debugf("saved snapshot %s (%d bytes) to %s", name, len(data), s.dir)
	return nil
}

// Load reads the snapshot file for name.
func (s *FileStore) Load(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: loading %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the snapshot file for name.
func (s *FileStore) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: deleting %s: %w", name, err)
	}
	return nil
}

// Close does nothing.
func (s *FileStore) Close() error {
	return nil
}

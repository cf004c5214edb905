package storage_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zephyrtronium/tinyscript/storage"
)

func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	dir := t.TempDir()
	f, err := storage.Open("file", filepath.Join(dir, "snaps"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := storage.Open("sqlite", filepath.Join(dir, "flash.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		f.Close()
		s.Close()
	})
	return map[string]storage.Store{"file": f, "sqlite": s}
}

func TestStore(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Load("boot"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("load before save: want ErrNotFound, got %v", err)
			}
			first := []byte{0xa1, 0x00, 0x01}
			second := bytes.Repeat([]byte{7}, 4096)
			for _, data := range [][]byte{first, second} {
				if err := s.Save("boot", data); err != nil {
					t.Fatal(err)
				}
				got, err := s.Load("boot")
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, data) {
					t.Errorf("wrong data: want %d bytes, got %d", len(data), len(got))
				}
			}
			if err := s.Delete("boot"); err != nil {
				t.Fatal(err)
			}
			if err := s.Delete("boot"); err != nil {
				t.Errorf("second delete: %v", err)
			}
			if _, err := s.Load("boot"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("load after delete: want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreBadNames(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "..", "a/b", "../up", "sp ace"} {
				if err := s.Save(bad, nil); !errors.Is(err, storage.ErrBadName) {
					t.Errorf("save %q: want ErrBadName, got %v", bad, err)
				}
			}
		})
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := storage.Open("tape", t.TempDir()); err == nil {
		t.Error("no error for unknown driver")
	}
}

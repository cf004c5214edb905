// Package storage persists arena snapshots under names, standing in for the
// flash pages a board would save its variables to.
package storage

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/tliron/commonlog"
)

// Store saves and loads named snapshots. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save writes data under name, replacing any previous snapshot.
	Save(name string, data []byte) error
	// Load returns the snapshot saved under name. It returns an error
	// wrapping ErrNotFound if there is none.
	Load(name string) ([]byte, error)
	// Delete removes the snapshot saved under name. Deleting a missing
	// snapshot is not an error.
	Delete(name string) error
	// Close releases the store's resources.
	Close() error
}

// ErrNotFound is wrapped by Load errors for names that have no snapshot.
var ErrNotFound = errors.New("storage: snapshot not found")

// ErrBadName is returned for snapshot names that cannot be stored.
var ErrBadName = errors.New("storage: invalid snapshot name")

var log = commonlog.GetLogger("tinyscript.storage")

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

func checkName(name string) error {
	if !nameRE.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// Open returns the store for a driver name: "file" with a directory path or
// "sqlite" with a database file path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbName = "careline.db"

// ErrDirectoryNotFound reports a persistence directory that does not exist.
// The store never creates its directory; callers own it.
var ErrDirectoryNotFound = errors.New("persistence directory not found")

type Config struct {
	Dir string
}

// Path returns the database file path for a persistence directory.
func Path(dir string) string {
	return filepath.Join(dir, dbName)
}

// EnsureDir creates the persistence directory if it does not exist yet.
// Only explicit initialization paths use it; Open never does.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the SQLite database inside an existing directory with foreign
// keys on. It fails fast with ErrDirectoryNotFound when the directory is
// missing.
func Open(cfg Config) (*sql.DB, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, dir)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", Path(dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

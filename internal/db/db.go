package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "teamline.db"

type Config struct {
	Dir string
}

func dbPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ".teamline", defaultDBName)
}

// EnsureDir creates the data directory if missing.
func EnsureDir(dir string) (string, error) {
	path := filepath.Join(dir, ".teamline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureDir(cfg.Dir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the data directory.
func Path(dir string) string {
	return dbPath(dir)
}

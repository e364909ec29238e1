package transcriptstore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Settings selects and configures a Store backend.
type Settings struct {
	Backend         string `glazed:"store-backend"`
	Root            string `glazed:"store-root"`
	UnitTestMode    bool   `glazed:"unit-test-mode"`
	RetryAttempts   int    `glazed:"retry-attempts"`
	RetryIntervalMS int    `glazed:"retry-interval-ms"`
	SQLiteDB        string `glazed:"sqlite-db"`
	SQLiteDSN       string `glazed:"sqlite-dsn"`
}

// DefaultSettings returns a file-backed configuration rooted at ./transcripts.
func DefaultSettings() Settings {
	return Settings{
		Backend:         BackendFile,
		Root:            "transcripts",
		RetryAttempts:   DefaultRetryAttempts,
		RetryIntervalMS: int(DefaultRetryInterval / time.Millisecond),
		SQLiteDB:        "transcripts.db",
	}
}

// Open builds the configured store. The returned cleanup closes it and is
// safe to call even when Open fails.
func Open(settings Settings) (Store, func(), error) {
	var store Store
	cleanup := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	switch strings.ToLower(strings.TrimSpace(settings.Backend)) {
	case BackendMemory:
		store = NewInMemoryStore()

	case BackendFile, "":
		opts := []FileStoreOption{WithUnitTestMode(settings.UnitTestMode)}
		if settings.RetryAttempts > 0 {
			opts = append(opts, WithRetry(settings.RetryAttempts, time.Duration(settings.RetryIntervalMS)*time.Millisecond))
		}
		s, err := NewFileStore(settings.Root, opts...)
		if err != nil {
			return nil, cleanup, err
		}
		store = s

	case BackendSQLite:
		dsn := strings.TrimSpace(settings.SQLiteDSN)
		if dsn == "" {
			db := strings.TrimSpace(settings.SQLiteDB)
			if dir := filepath.Dir(db); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, cleanup, errors.Wrap(err, "create transcript db dir")
				}
			}
			var err error
			dsn, err = SQLiteDSNForFile(db)
			if err != nil {
				return nil, cleanup, err
			}
		}
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, cleanup, err
		}
		store = s

	default:
		return nil, cleanup, errors.Errorf("unknown transcript store backend %q (want %s, %s or %s)",
			settings.Backend, BackendMemory, BackendFile, BackendSQLite)
	}

	return store, cleanup, nil
}

// Package storagetest opens a migrated in-memory job store for tests.
package storagetest

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
	"github.com/cuongbtq/thumbnail-pipeline/shared/logger"
)

// New returns a Storage backed by a private in-memory SQLite database
func New(t testing.TB) *storage.Storage {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)

	// every new connection would see its own empty database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStorage(db, logger.NewNop().Logger)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

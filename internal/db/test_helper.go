package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/config"
)

// SetupTestDB opens a fresh SQLite database in a temp dir.
// It is closed automatically when the test ends.
func SetupTestDB(t testing.TB) *DB {
	t.Helper()
	return OpenTestDBAt(t, filepath.Join(t.TempDir(), "test.db"))
}

// OpenTestDBAt opens the SQLite file at path; reopening the same path
// simulates a process restart.
func OpenTestDBAt(t testing.TB, path string) *DB {
	t.Helper()
	d, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// SetupPostgresTestDB connects to the local postgres used in development.
// The test is skipped when no server is reachable.
func SetupPostgresTestDB(t testing.TB) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping postgres test in short mode")
	}
	cfg := config.DBConfig{
		Host:     "localhost",
		Port:     "5433",
		User:     "trader",
		Password: "trading123",
		Name:     "trading_db",
	}
	d, err := OpenPostgres(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping test - postgres not available: %v", err)
	}
	CleanupTestDB(t, d)
	t.Cleanup(func() {
		CleanupTestDB(t, d)
		_ = d.Close()
	})
	return d
}

// CleanupTestDB cleans up test data
func CleanupTestDB(t testing.TB, d *DB) {
	tables := []string{"transactions", "holdings", "balance", "coins", "alerts"}
	for _, table := range tables {
		if _, err := d.Exec("DELETE FROM " + table); err != nil {
			t.Logf("Warning: Failed to cleanup table %s: %v", table, err)
		}
	}
}

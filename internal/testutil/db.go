// Package testutil provides testing utilities shared across internal packages.
package testutil

import (
	"os"
	"testing"

	"github.com/aristath/ibkr-bridge/internal/database"
)

// NewTestDB creates a temp-file-backed "bridge" database with the schema
// migrated, and returns a cleanup function that closes and removes it.
func NewTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_bridge_*.db")
	if err != nil {
		t.Fatalf("failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "bridge",
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("warning: failed to remove temp database file %s: %v", tmpPath, err)
		}
	}
}

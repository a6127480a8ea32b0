package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/educlopez/airlume/internal/config"
	"github.com/educlopez/airlume/internal/database"
)

// NewTestDB opens a migrated sqlite database in a temporary directory.
// The database is closed when the test finishes.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "airlume-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

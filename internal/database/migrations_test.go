package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsColorCodes(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&CardRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := CardRecord{
		ExternalID:        "legacy-1",
		Name:              "Lightning Helix",
		Colors:            datatypes.JSON(`["R","W"]`),
		ColorIdentity:     datatypes.JSON(`["R","W"]`),
		ImportedAtSeconds: 1,
	}
	colorless := CardRecord{
		ExternalID:        "legacy-2",
		Name:              "Sol Ring",
		Colors:            datatypes.JSON(`[]`),
		ImportedAtSeconds: 1,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert card: %v", err)
	}
	if err := database.Create(&colorless).Error; err != nil {
		testContext.Fatalf("failed to insert card: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored CardRecord
	if err := database.Where("external_id = ?", legacy.ExternalID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload card: %v", err)
	}
	if stored.ColorCodes != ",R,W," {
		testContext.Fatalf("expected color codes to be backfilled, got %q", stored.ColorCodes)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillCardColorCodes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("reapplying migrations must be a no-op: %v", err)
	}
}

package database

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

const migrationBackfillCardColorCodes = "2024-09-14_backfill_card_color_codes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillCardColorCodes, apply: backfillCardColorCodes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillCardColorCodes derives the searchable color_codes column for rows imported
// before the column existed.
func backfillCardColorCodes(db *gorm.DB) error {
	var records []CardRecord
	if err := db.Select("external_id", "colors").Where("color_codes = ''").Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		var colors []string
		if len(record.Colors) > 0 {
			if err := json.Unmarshal(record.Colors, &colors); err != nil {
				return err
			}
		}
		codes := cards.ColorKey(colors)
		if codes == "" {
			continue
		}
		if err := db.Model(&CardRecord{}).
			Where("external_id = ?", record.ExternalID).
			Update("color_codes", codes).Error; err != nil {
			return err
		}
	}
	return nil
}

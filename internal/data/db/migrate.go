package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/panelapp-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// Active snapshot lookup walks versions newest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_panel_snapshot_active
		ON panel_snapshot (panel_id, major_version DESC, minor_version DESC)
	`).Error; err != nil {
		return fmt.Errorf("create idx_panel_snapshot_active: %w", err)
	}
	return nil
}

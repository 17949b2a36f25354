// internal/store/store.go
package store

import (
	"fmt"
	"log"

	"panel-sync-service/internal/config"
	"panel-sync-service/pkg/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to Postgres when DATABASE_URL is set, otherwise falls back
// to an embedded SQLite database.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.DatabaseURL != "" {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		log.Printf("⚠️ DATABASE_URL not set, falling back to embedded SQLite (%s)", cfg.SQLitePath)
		dialector = sqlite.Open(fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", cfg.SQLitePath))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates/updates every table this service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Setting{},
		&models.SyncStatus{},
		&models.SyncLog{},
		&models.Location{},
		&models.Node{},
		&models.Allocation{},
		&models.Nest{},
		&models.Egg{},
		&models.EggProperty{},
		&models.Server{},
		&models.ServerProperty{},
		&models.ServerDatabase{},
		&models.PanelUser{},
	)
}

// DefaultSettings are seeded once on first boot; existing rows are never
// overwritten so operator changes survive restarts.
var DefaultSettings = map[string]string{
	"auto_sync_enabled":     "false",
	"sync_interval":         "3600",
	"cache_timeout":         "60",
	"allocation_batch_size": "100",
	"sync_webhook_url":      "",
	"pterodactyl_panel_url": "",
	"pterodactyl_api_key":   "",
	"virtfusion_panel_url":  "",
	"virtfusion_api_key":    "",
}

// SeedDefaultSettings inserts any missing default settings rows.
func SeedDefaultSettings(db *gorm.DB) error {
	for key, value := range DefaultSettings {
		var existing models.Setting
		err := db.Where("key = ?", key).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to look up setting %q: %w", key, err)
		}
		if err := db.Create(&models.Setting{Key: key, Value: value}).Error; err != nil {
			return fmt.Errorf("failed to seed setting %q: %w", key, err)
		}
	}
	return nil
}

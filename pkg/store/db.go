package store

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database named by dsn. The scheme selects the driver:
// mysql:// and postgres:// use the matching drivers, anything else is treated
// as a SQLite path (":memory:" works for tests).
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		dialector = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates all engine tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&ContentBlock{},
		&ContentItem{},
		&TranslationLink{},
		&TranslationVersion{},
		&CourseLink{},
		&SyncRun{},
	); err != nil {
		return fmt.Errorf("auto-migrate translation tables: %w", err)
	}
	return nil
}

package db

import (
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/models"
	"github.com/suPer8Hu/assistant-relay/internal/ratelimit"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the database for driver "mysql" (default) or "sqlite".
func Connect(driver, dsn string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = gormsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}

	lvl := gormlogger.Warn
	if debug {
		lvl = gormlogger.Info
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(lvl)})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sql.DB: %w", err)
	}
	if driver == "sqlite" {
		// single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&models.User{},
		&chat.Assistant{},
		&chat.AssistantSettings{},
		&chat.Conversation{},
		&chat.Message{},
		&chat.MessageAttachment{},
		&chat.Job{},
		&ratelimit.Bucket{},
		&ratelimit.Hit{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

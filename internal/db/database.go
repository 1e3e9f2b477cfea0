package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound means no row exists for the requested key.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row already exists or already moved past the requested state.
	ErrConflict = errors.New("conflict")
	// ErrTokenRotated means the row exists but its refresh token was already
	// replaced by another rotation.
	ErrTokenRotated = errors.New("refresh token already rotated")
	// ErrStateExpired means an authorization nonce was redeemed after its deadline.
	ErrStateExpired = errors.New("authorization state expired")
)

// InitDB opens the database for driver and runs migrations. The returned handle
// is a pooled, process-lifetime connection shared by every store.
func InitDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if dialector.Name() == DriverSQLite {
		// sqlite allows a single writer; one pooled connection keeps
		// concurrent requests queued instead of failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the bot uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.UserCredential{}, &models.AuthorizationState{}, &models.ServerConfig{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

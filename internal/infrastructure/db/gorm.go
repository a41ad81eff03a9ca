package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signoff-backend/internal/config"
	"signoff-backend/internal/domain/approval"
	"signoff-backend/internal/domain/submission"
)

type Options struct {
	LogLevel string
	// sqlite allows a single writer; callers set 1 there.
	MaxOpenConns int
}

// Dialector picks the GORM dialect for cfg.DBDriver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		return mysql.Open(cfg.DSN()), nil
	case config.DriverPostgres:
		return postgres.Open(cfg.DSN()), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.DSN()), nil
	}
	return nil, fmt.Errorf("db: unsupported driver %q", cfg.DBDriver)
}

func Open(cfg *config.Config) (*gorm.DB, error) {
	dial, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	opts := Options{LogLevel: cfg.DBLogLevel, MaxOpenConns: 30}
	if cfg.DBDriver == config.DriverSQLite {
		opts.MaxOpenConns = 1
	}
	return OpenGormWithDialector(dial, opts)
}

func OpenGormWithDialector(dial gorm.Dialector, opts ...Options) (*gorm.DB, error) {
	o := Options{LogLevel: "warn", MaxOpenConns: 30}
	if len(opts) > 0 {
		o = opts[0]
	}
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(o.LogLevel)),
		// unique violations surface as gorm.ErrDuplicatedKey on every dialect
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
	db, err := gorm.Open(dial, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 30
	}
	sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	sqlDB.SetMaxIdleConns(min(10, o.MaxOpenConns))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	slog.Default().Info("gorm: connected", "dialect", dial.Name())
	return db, nil
}

// Migrate creates or updates the submissions and approvals tables, including
// the (submission_id, participant_id) unique index the ledger relies on.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&submission.Submission{}, &approval.Approval{}); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

func parseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

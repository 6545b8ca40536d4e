package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Avertenandor/sigmatradebot/internal/config"
	"github.com/Avertenandor/sigmatradebot/internal/model"
)

// Open connects to postgres using the configured DSN.
func Open(cfg *config.Config) (*gorm.DB, error) {
	return OpenDSN(cfg.DSN())
}

// OpenDSN connects to postgres by DSN. TranslateError is on so
// unique-constraint violations surface as gorm.ErrDuplicatedKey
// regardless of driver.
func OpenDSN(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates all tables and the indexes AutoMigrate cannot express.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Deposit{},
		&model.Transaction{},
		&model.Referral{},
		&model.ReferralEarning{},
		&model.Payment{},
		&model.PaymentRetry{},
		&model.FailedNotification{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Partial unique index: at most one pending deposit per (user, level).
	// Scoped to status='pending' so terminal rows carry no constraint.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_deposits_user_level_pending
			ON deposits (user_id, level) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_status
			ON transactions (user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_type_status
			ON transactions (type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status_created
			ON transactions (status, created_at)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

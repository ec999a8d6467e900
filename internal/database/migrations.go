package database

import (
	"errors"
	"time"

	"github.com/vitalboard/backend/internal/credentials"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneStaleOAuthTransactions = "2026-08-12_prune_stale_oauth_transactions"

// oauthTransactionMaxAge bounds how long an unconsumed authorization
// transaction may linger before the prune migration removes it.
const oauthTransactionMaxAge = 24 * time.Hour

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
		{name: migrationPruneStaleOAuthTransactions, apply: pruneStaleOAuthTransactions},
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

// pruneStaleOAuthTransactions deletes authorization transactions that were
// started but never consumed. Abandoned flows otherwise accumulate one row
// per user and provider.
func pruneStaleOAuthTransactions(db *gorm.DB) error {
	cutoff := time.Now().Add(-oauthTransactionMaxAge).UnixMilli()
	return db.Where("created_at_ms < ?", cutoff).Delete(&credentials.TransactionState{}).Error
}

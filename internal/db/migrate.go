package db

import (
	"crowdfund_ledger/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus"
	"gorm.io/gorm" // GORM ORM library
)

// Migrate performs automatic migration for the ledger schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	err := db.AutoMigrate(&domain.Wallet{}, &domain.Campaign{}, &domain.Transaction{}, &domain.PaymentReceipt{})
	if err != nil {
		logrus.WithError(err).Error("migration failed") // Log migration failure
		return err
	}
	logrus.Info("Migration completed.") // Log successful migration
	return nil
}

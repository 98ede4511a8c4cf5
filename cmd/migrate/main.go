package main

import (
	"github.com/sirupsen/logrus" // Logrus for structured logging

	"crowdfund_ledger/internal/config" // Custom import path (Config)
	"crowdfund_ledger/internal/db"     // Custom import path (Database)
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration

	gdb, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		logrus.Fatalf("migration failed: %v", err)
	}
}

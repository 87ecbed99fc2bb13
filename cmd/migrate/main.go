package main

import (
	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// migrate runs gorm AutoMigrate for all ledger tables.
func main() {
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	config.GetLogger().Info("migration complete")
}

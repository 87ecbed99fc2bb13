package models

import (
	"log"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &Account{}, &Location{}, &Item{},
		&PeriodClose{},
		&JournalSequence{}, &JournalEntry{}, &JournalLine{},
		&StockMove{}, &StockBalance{},
		&IdempotencyRecord{},
		&LedgerOutboxRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JournalSequence holds the next gapless entry number per company. The row is
// read FOR UPDATE and incremented inside the same transaction as the journal
// insert, so a rollback releases the number with the row lock and no gap is
// ever visible.
type JournalSequence struct {
	ID         int       `gorm:"primary_key" json:"id"`
	CompanyId  string    `gorm:"type:char(36);uniqueIndex;not null" json:"company_id"`
	NextNumber int64     `gorm:"not null;default:1" json:"next_number"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// nextEntryNumber allocates the next per-company journal entry number inside tx.
func nextEntryNumber(ctx context.Context, tx *gorm.DB, companyId string) (int64, error) {
	if tx == nil {
		return 0, errors.New("tx is nil")
	}

	var seq JournalSequence
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ?", companyId).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seq = JournalSequence{CompanyId: companyId, NextNumber: 1}
		if err := tx.WithContext(ctx).Create(&seq).Error; err != nil {
			// Concurrent first allocation: retry the locked read once.
			err2 := tx.WithContext(ctx).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("company_id = ?", companyId).
				First(&seq).Error
			if err2 != nil {
				return 0, err
			}
		}
	} else if err != nil {
		return 0, err
	}

	allocated := seq.NextNumber
	if err := tx.WithContext(ctx).Model(&JournalSequence{}).
		Where("id = ?", seq.ID).
		Update("next_number", allocated+1).Error; err != nil {
		return 0, err
	}
	return allocated, nil
}

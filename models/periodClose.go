package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

var ErrorClosedPeriod = errors.New("transaction date falls in a closed period")

// PeriodClose is the audit record of a period close. The latest row per
// company is the authoritative gate; Company.PeriodClosedThrough mirrors it
// for cheap reads.
type PeriodClose struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CompanyId     string    `gorm:"type:char(36);index;not null" json:"company_id"`
	ClosedThrough time.Time `gorm:"not null" json:"closed_through"`
	Note          string    `gorm:"size:255" json:"note"`
	ClosedByUser  int       `json:"closed_by_user"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ClosePeriod advances the close gate. One-way: the new close date must be
// after the current one, and there is no reopen operation. No entry may be
// dated on or before a closed period's end, even as a backdated correction.
func ClosePeriod(ctx context.Context, through time.Time, note string) (*PeriodClose, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}

	closeDate, err := utils.ConvertToDate(through, company.Timezone)
	if err != nil {
		return nil, err
	}
	currentDate, err := utils.ConvertToDate(company.PeriodClosedThrough, company.Timezone)
	if err != nil {
		return nil, err
	}
	if !company.PeriodClosedThrough.IsZero() && !closeDate.After(currentDate) {
		return nil, errors.New("close date must be after the currently closed period")
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	record := PeriodClose{
		CompanyId:     companyId,
		ClosedThrough: closeDate,
		Note:          note,
		ClosedByUser:  userId,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Model(&Company{}).Where("id = ?", companyId).
			Update("period_closed_through", closeDate).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// validatePostingDate enforces the closed-period gate inside the caller's
// transaction: the entry date must be strictly after the latest close.
// Comparison is date-level in the company's timezone.
func validatePostingDate(ctx context.Context, tx *gorm.DB, companyId string, transactionDate time.Time) error {
	var company Company
	if err := tx.WithContext(ctx).Where("id = ?", companyId).First(&company).Error; err != nil {
		return errors.New("company not found")
	}

	// The latest close record is the source of truth; the company column is a mirror.
	var latest PeriodClose
	err := tx.WithContext(ctx).
		Where("company_id = ?", companyId).
		Order("closed_through DESC").
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	tDate, err := utils.ConvertToDate(transactionDate, company.Timezone)
	if err != nil {
		return err
	}
	cDate, err := utils.ConvertToDate(latest.ClosedThrough, company.Timezone)
	if err != nil {
		return err
	}
	if !tDate.After(cDate) {
		return ErrorClosedPeriod
	}
	return nil
}

package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrorUnbalancedEntry  = errors.New("journal entry is not balanced")
	ErrorRoundingMismatch = errors.New("rounding mismatch")
)

// JournalEntry is immutable once created. The only in-place writes ever
// allowed are the void / reversed-by / superseded-by markers; lines are never
// touched. Corrections are new entries.
type JournalEntry struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	CompanyId     string              `gorm:"type:char(36);index;index:idx_journal_company_number,unique,priority:1;not null" json:"company_id"`
	EntryNumber   int64               `gorm:"index:idx_journal_company_number,unique,priority:2;not null" json:"entry_number"`
	EntryDate     time.Time           `gorm:"index;not null" json:"entry_date" binding:"required"`
	Description   string              `gorm:"type:text" json:"description"`
	ReferenceType LedgerReferenceType `gorm:"size:20;index" json:"reference_type"`
	ReferenceId   int                 `gorm:"index" json:"reference_id"`
	LocationId    int                 `json:"location_id"`

	ReversalOfJournalEntryId   *int `gorm:"index" json:"reversal_of_journal_entry_id"`
	ReversedByJournalEntryId   *int `gorm:"index" json:"reversed_by_journal_entry_id"`
	AdjustsJournalEntryId      *int `gorm:"index" json:"adjusts_journal_entry_id"`
	SupersededByJournalEntryId *int `gorm:"index" json:"superseded_by_journal_entry_id"`

	IsVoid     bool       `gorm:"not null;default:false" json:"is_void"`
	VoidedAt   *time.Time `json:"voided_at"`
	VoidReason *string    `gorm:"type:text" json:"void_reason"`

	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	Lines         []JournalLine   `gorm:"foreignKey:JournalEntryId" json:"lines"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type JournalLine struct {
	ID             int             `gorm:"primary_key" json:"id"`
	JournalEntryId int             `gorm:"index;not null" json:"journal_entry_id"`
	AccountId      int             `gorm:"index;not null" json:"account_id" binding:"required"`
	Description    string          `gorm:"size:255" json:"description"`
	Debit          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit"`
}

func (j *JournalEntry) GetId() int {
	return j.ID
}

func (jl JournalLine) GetId() int {
	return jl.ID
}

type NewJournalEntry struct {
	EntryDate     time.Time           `json:"entry_date" validate:"required"`
	Description   string              `json:"description"`
	ReferenceType LedgerReferenceType `json:"reference_type"`
	ReferenceId   int                 `json:"reference_id"`
	LocationId    int                 `json:"location_id"`
	// ExpectedTotal, when supplied by a document producer, must equal the fresh
	// recomputation of the lines' debit total. A mismatch means the caller's
	// stored totals drifted from its lines and the posting is rejected.
	ExpectedTotal *decimal.Decimal `json:"expected_total"`
	Lines         []NewJournalLine `json:"lines" validate:"required,min=2,dive"`

	// Lineage markers, set only by the reversal/adjustment engine.
	reversalOfJournalEntryId *int
	adjustsJournalEntryId    *int
}

type NewJournalLine struct {
	AccountId   int             `json:"account_id" validate:"required"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// receiveJournalLines validates line shape and rounds amounts to money
// precision. Exactly one of debit/credit must be positive per line.
func receiveJournalLines(input []NewJournalLine) ([]JournalLine, decimal.Decimal, decimal.Decimal, error) {
	lines := make([]JournalLine, 0, len(input))
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, l := range input {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return nil, decimal.Zero, decimal.Zero, errors.New("debit and credit must be non-negative")
		}
		debit := utils.RoundMoney(l.Debit)
		credit := utils.RoundMoney(l.Credit)
		if debit.IsPositive() == credit.IsPositive() {
			return nil, decimal.Zero, decimal.Zero, errors.New("exactly one of debit or credit must have value")
		}
		totalDebit = utils.RoundMoney(totalDebit.Add(debit))
		totalCredit = utils.RoundMoney(totalCredit.Add(credit))
		lines = append(lines, JournalLine{
			AccountId:   l.AccountId,
			Description: l.Description,
			Debit:       debit,
			Credit:      credit,
		})
	}
	return lines, totalDebit, totalCredit, nil
}

// PostJournalEntry validates and persists a balanced journal entry inside the
// caller's transaction. It never retries internally; callers retry only
// through the idempotency layer.
//
// Validation order:
// 1. company/date well-formed
// 2. date after the latest closed period
// 3. line shape (non-negative, one side positive)
// 4. all accounts belong to the company
// 5. tagged location belongs to the company
// 6. total debit == total credit at money precision
func PostJournalEntry(ctx context.Context, tx *gorm.DB, input *NewJournalEntry) (*JournalEntry, error) {
	if tx == nil {
		return nil, errors.New("tx is nil")
	}
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if input == nil || input.EntryDate.IsZero() {
		return nil, errors.New("entry date is required")
	}
	if len(input.Lines) < 2 {
		return nil, errors.New("journal entry requires at least 2 lines")
	}

	if err := validatePostingDate(ctx, tx, companyId, input.EntryDate); err != nil {
		return nil, err
	}

	lines, totalDebit, totalCredit, err := receiveJournalLines(input.Lines)
	if err != nil {
		return nil, err
	}

	accountIds := make([]int, 0, len(lines))
	for _, l := range lines {
		accountIds = append(accountIds, l.AccountId)
	}
	if err := validateAccountsBelongToCompanyTx(ctx, tx, companyId, accountIds); err != nil {
		return nil, err
	}

	if input.LocationId > 0 {
		var count int64
		if err := tx.WithContext(ctx).Model(&Location{}).
			Where("company_id = ? AND id = ?", companyId, input.LocationId).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, errors.New("location not found")
		}
	}

	if !totalDebit.Equal(totalCredit) {
		return nil, fmt.Errorf("%w: debit %s != credit %s", ErrorUnbalancedEntry, totalDebit, totalCredit)
	}
	if input.ExpectedTotal != nil && !utils.RoundMoney(*input.ExpectedTotal).Equal(totalDebit) {
		return nil, fmt.Errorf("%w: expected %s, lines total %s", ErrorRoundingMismatch, utils.RoundMoney(*input.ExpectedTotal), totalDebit)
	}

	// Gapless number, allocated in this same transaction.
	entryNumber, err := nextEntryNumber(ctx, tx, companyId)
	if err != nil {
		return nil, err
	}

	entry := JournalEntry{
		CompanyId:                companyId,
		EntryNumber:              entryNumber,
		EntryDate:                input.EntryDate,
		Description:              input.Description,
		ReferenceType:            input.ReferenceType,
		ReferenceId:              input.ReferenceId,
		LocationId:               input.LocationId,
		ReversalOfJournalEntryId: input.reversalOfJournalEntryId,
		AdjustsJournalEntryId:    input.adjustsJournalEntryId,
		TotalAmount:              totalDebit,
		CorrelationId:            correlationIdFromContextOrNew(ctx),
		Lines:                    lines,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}

	if err := PublishToLedgerFeed(ctx, tx, companyId, entry.EntryDate, entry.ID, entry.ReferenceType, &entry, OutboxActionCreate); err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreateJournalEntry is the standalone variant for manual journals: it opens
// its own transaction around PostJournalEntry.
func CreateJournalEntry(ctx context.Context, input *NewJournalEntry) (*JournalEntry, error) {
	db := config.GetDB()
	var entry *JournalEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = PostJournalEntry(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// VoidJournalEntry flips void metadata in place. Lines are untouched; the
// economic cancellation is the reversal entry the caller creates alongside.
func VoidJournalEntry(ctx context.Context, tx *gorm.DB, entryId int, reason string) error {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return errors.New("company id is required")
	}
	now := time.Now().UTC()
	result := tx.WithContext(ctx).Model(&JournalEntry{}).
		Where("company_id = ? AND id = ? AND is_void = 0", companyId, entryId).
		Updates(map[string]interface{}{
			"is_void":     true,
			"voided_at":   &now,
			"void_reason": &reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("journal entry not found or already void")
	}
	return nil
}

func GetJournalEntry(ctx context.Context, id int) (*JournalEntry, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return utils.FetchModel[JournalEntry](ctx, companyId, id, "Lines")
}

// validateAccountsBelongToCompanyTx is the in-transaction variant of the
// cross-tenant account check.
func validateAccountsBelongToCompanyTx(ctx context.Context, tx *gorm.DB, companyId string, accountIds []int) error {
	unqIds := utils.UniqueSlice(accountIds)
	var count int64
	if err := tx.WithContext(ctx).Model(&Account{}).
		Where("company_id = ? AND id IN ?", companyId, unqIds).
		Count(&count).Error; err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return errors.New("account not found")
	}
	return nil
}

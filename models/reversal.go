package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrorAlreadyReversed = errors.New("journal entry already has a reversal")
	ErrorEntryIsVoid     = errors.New("journal entry is void")
)

// ReverseJournalEntry creates a new entry whose lines are the original's with
// debit and credit swapped per account, dated at the reversal date. Posted
// journals are never deleted; the reversal cancels the net effect.
//
// Reversal is at-most-once per source entry: a second attempt is refused.
func ReverseJournalEntry(ctx context.Context, tx *gorm.DB, originalEntryId int, reversalDate time.Time, reason string) (*JournalEntry, error) {
	if tx == nil {
		return nil, errors.New("tx is nil")
	}
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	// Row lock the original so concurrent reversal attempts serialize here.
	var original JournalEntry
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ?", companyId).
		First(&original, originalEntryId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if original.ReversedByJournalEntryId != nil && *original.ReversedByJournalEntryId > 0 {
		return nil, ErrorAlreadyReversed
	}
	if err := tx.WithContext(ctx).
		Where("journal_entry_id = ?", original.ID).
		Find(&original.Lines).Error; err != nil {
		return nil, err
	}

	reversedLines := make([]NewJournalLine, 0, len(original.Lines))
	for _, l := range original.Lines {
		reversedLines = append(reversedLines, NewJournalLine{
			AccountId:   l.AccountId,
			Description: l.Description,
			Debit:       l.Credit,
			Credit:      l.Debit,
		})
	}

	input := &NewJournalEntry{
		EntryDate:                reversalDate,
		Description:              "Reversal: " + reason,
		ReferenceType:            original.ReferenceType,
		ReferenceId:              original.ReferenceId,
		LocationId:               original.LocationId,
		Lines:                    reversedLines,
		reversalOfJournalEntryId: &original.ID,
	}
	reversal, err := PostJournalEntry(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	// Metadata-only update on the original.
	if err := tx.WithContext(ctx).Model(&JournalEntry{}).
		Where("id = ?", original.ID).
		Update("reversed_by_journal_entry_id", reversal.ID).Error; err != nil {
		return nil, err
	}
	return reversal, nil
}

// netBalancesByAccount folds lines into signed per-account balances
// (net = debit - credit), rounded to money precision.
func netBalancesByAccount(lines []JournalLine) map[int]decimal.Decimal {
	nets := make(map[int]decimal.Decimal)
	for _, l := range lines {
		nets[l.AccountId] = utils.RoundMoney(nets[l.AccountId].Add(l.Debit).Sub(l.Credit))
	}
	return nets
}

// computeAdjustmentLines returns the minimal correcting line set between the
// original net and the desired net: one line per account whose balance
// actually changed. Positive delta becomes a debit, negative a credit.
func computeAdjustmentLines(originalNets, desiredNets map[int]decimal.Decimal) []NewJournalLine {
	accountIds := make([]int, 0, len(originalNets)+len(desiredNets))
	seen := make(map[int]bool)
	for id := range originalNets {
		if !seen[id] {
			seen[id] = true
			accountIds = append(accountIds, id)
		}
	}
	for id := range desiredNets {
		if !seen[id] {
			seen[id] = true
			accountIds = append(accountIds, id)
		}
	}
	// Deterministic line order keeps entries diffable.
	sort.Ints(accountIds)

	lines := make([]NewJournalLine, 0, len(accountIds))
	for _, id := range accountIds {
		delta := utils.RoundMoney(desiredNets[id].Sub(originalNets[id]))
		if delta.IsZero() {
			continue
		}
		if delta.IsPositive() {
			lines = append(lines, NewJournalLine{AccountId: id, Debit: delta})
		} else {
			lines = append(lines, NewJournalLine{AccountId: id, Credit: delta.Abs()})
		}
	}
	return lines
}

// AdjustJournalEntry corrects a posted entry to the desired line set without
// mutating it, by posting only the per-account deltas.
//
// A document carries at most one active adjustment: a newer adjustment first
// reverses the previous one, then posts against the original. Returns
// (nil, nil) when the desired state already matches the effective state.
func AdjustJournalEntry(ctx context.Context, tx *gorm.DB, originalEntryId int, desiredLines []NewJournalLine, adjustmentDate time.Time, reason string) (*JournalEntry, error) {
	if tx == nil {
		return nil, errors.New("tx is nil")
	}
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	var original JournalEntry
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ?", companyId).
		First(&original, originalEntryId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if original.IsVoid {
		return nil, ErrorEntryIsVoid
	}
	if original.ReversedByJournalEntryId != nil && *original.ReversedByJournalEntryId > 0 {
		return nil, ErrorAlreadyReversed
	}
	if err := tx.WithContext(ctx).
		Where("journal_entry_id = ?", original.ID).
		Find(&original.Lines).Error; err != nil {
		return nil, err
	}

	// Desired set must be individually balanced before any delta math.
	desired, desiredDebit, desiredCredit, err := receiveJournalLines(desiredLines)
	if err != nil {
		return nil, err
	}
	if !desiredDebit.Equal(desiredCredit) {
		return nil, fmt.Errorf("%w: desired debit %s != credit %s", ErrorUnbalancedEntry, desiredDebit, desiredCredit)
	}

	activeAdjustment, err := findActiveAdjustment(ctx, tx, companyId, original.ID)
	if err != nil {
		return nil, err
	}

	// Effective state = original + active adjustment (if any).
	effectiveNets := netBalancesByAccount(original.Lines)
	if activeAdjustment != nil {
		for id, net := range netBalancesByAccount(activeAdjustment.Lines) {
			effectiveNets[id] = utils.RoundMoney(effectiveNets[id].Add(net))
		}
	}
	desiredNets := netBalancesByAccount(desired)

	if adjustmentIsNoop(effectiveNets, desiredNets) {
		return nil, nil
	}

	// Supersede: cancel the previous adjustment, then post the full delta
	// against the original so the active chain stays original + one entry.
	var supersedeReversal *JournalEntry
	if activeAdjustment != nil {
		supersedeReversal, err = ReverseJournalEntry(ctx, tx, activeAdjustment.ID, adjustmentDate, "superseded adjustment")
		if err != nil {
			return nil, err
		}
	}

	adjustmentLines := computeAdjustmentLines(netBalancesByAccount(original.Lines), desiredNets)
	if len(adjustmentLines) == 0 {
		// Desired state equals the original posting: reversing the active
		// adjustment above already restored it, nothing further to post.
		return supersedeReversal, nil
	}
	if len(adjustmentLines) < 2 {
		// Structurally impossible when both input sets balance; checked anyway.
		return nil, fmt.Errorf("adjustment nets to %d line(s), refusing to post", len(adjustmentLines))
	}
	totalDelta := decimal.Zero
	for _, l := range adjustmentLines {
		totalDelta = utils.RoundMoney(totalDelta.Add(l.Debit).Sub(l.Credit))
	}
	if !totalDelta.IsZero() {
		return nil, fmt.Errorf("%w: adjustment deltas sum to %s", ErrorUnbalancedEntry, totalDelta)
	}

	input := &NewJournalEntry{
		EntryDate:             adjustmentDate,
		Description:           "Adjustment: " + reason,
		ReferenceType:         original.ReferenceType,
		ReferenceId:           original.ReferenceId,
		LocationId:            original.LocationId,
		Lines:                 adjustmentLines,
		adjustsJournalEntryId: &original.ID,
	}
	adjustment, err := PostJournalEntry(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	if activeAdjustment != nil {
		if err := tx.WithContext(ctx).Model(&JournalEntry{}).
			Where("id = ?", activeAdjustment.ID).
			Update("superseded_by_journal_entry_id", adjustment.ID).Error; err != nil {
			return nil, err
		}
	}
	return adjustment, nil
}

// findActiveAdjustment returns the one adjustment entry for the original that
// has been neither reversed nor superseded, or nil.
func findActiveAdjustment(ctx context.Context, tx *gorm.DB, companyId string, originalEntryId int) (*JournalEntry, error) {
	var adjustments []JournalEntry
	err := tx.WithContext(ctx).
		Preload("Lines").
		Where("company_id = ? AND adjusts_journal_entry_id = ? AND reversed_by_journal_entry_id IS NULL AND superseded_by_journal_entry_id IS NULL AND is_void = 0", companyId, originalEntryId).
		Find(&adjustments).Error
	if err != nil {
		return nil, err
	}
	if len(adjustments) == 0 {
		return nil, nil
	}
	if len(adjustments) > 1 {
		return nil, fmt.Errorf("entry %d has %d active adjustments, expected at most 1", originalEntryId, len(adjustments))
	}
	return &adjustments[0], nil
}

func adjustmentIsNoop(effectiveNets, desiredNets map[int]decimal.Decimal) bool {
	for id, net := range desiredNets {
		if !net.Equal(effectiveNets[id]) {
			return false
		}
	}
	for id, net := range effectiveNets {
		if !net.Equal(desiredNets[id]) {
			return false
		}
	}
	return true
}

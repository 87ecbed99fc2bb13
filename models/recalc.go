package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

// RecalcResult summarizes one forward recalculation run.
type RecalcResult struct {
	KeysReplayed    int   `json:"keys_replayed"`
	RevaluedMoves   int   `json:"revalued_moves"`
	AdjustedEntries []int `json:"adjusted_entries"`
}

type stockKey struct {
	LocationId int
	ItemId     int
}

// RecalcForward replays every stock key that has a move on or after fromDate,
// rewrites OUT move costs the replay changed, and routes each affected journal
// entry's cost delta through the adjustment engine. The whole run is one
// transaction: either every revaluation and its ledger correction lands, or
// none do.
//
// Caller is expected to hold the stock locks for the affected keys (the
// backdated-insert workflow already does); standalone runs fall back to the
// balance row locks taken per key.
func RecalcForward(ctx context.Context, fromDate time.Time) (*RecalcResult, error) {
	ctx, span := otel.Tracer("ledger").Start(ctx, "RecalcForward")
	defer span.End()

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, errors.New("company id not found in context")
	}

	var result *RecalcResult
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = RecalcForwardTx(ctx, tx, companyId, fromDate)
		return err
	})
	if err != nil {
		config.LogError(config.GetLogger(), "recalc", "RecalcForward", companyId, logrus.Fields{"from_date": fromDate}, err)
		return nil, err
	}
	return result, nil
}

// RecalcForwardTx is the in-transaction core: the backdated-insert workflow
// calls it inside the same transaction as the triggering move so the
// revaluation and its ledger corrections commit or roll back together.
func RecalcForwardTx(ctx context.Context, tx *gorm.DB, companyId string, fromDate time.Time) (*RecalcResult, error) {
	result := &RecalcResult{}
	keys, err := affectedStockKeys(ctx, tx, companyId, fromDate)
	if err != nil {
		return nil, err
	}

	var allRevisions []RevisedMoveCost
	for _, key := range keys {
		revisions, err := recostStockKey(ctx, tx, companyId, key)
		if err != nil {
			return nil, err
		}
		result.KeysReplayed++
		result.RevaluedMoves += len(revisions)
		allRevisions = append(allRevisions, revisions...)
	}

	result.AdjustedEntries, err = RouteRevisedCosts(ctx, tx, companyId, allRevisions)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RouteRevisedCosts turns a batch of move cost rewrites into ledger
// corrections: deltas are aggregated per linked journal entry and each
// non-zero net delta is pushed through the adjustment engine. The
// backdated-insert workflow calls this directly with the replay's revisions,
// in the same transaction as the insert.
func RouteRevisedCosts(ctx context.Context, tx *gorm.DB, companyId string, revisions []RevisedMoveCost) ([]int, error) {
	deltasByEntry := map[int]decimal.Decimal{}
	for _, rev := range revisions {
		if rev.JournalEntryId == nil {
			continue
		}
		delta := rev.NewTotalCost.Sub(rev.OldTotalCost)
		deltasByEntry[*rev.JournalEntryId] = deltasByEntry[*rev.JournalEntryId].Add(delta)
	}
	if len(deltasByEntry) == 0 {
		return nil, nil
	}

	// Deterministic adjustment order: entry id ascending.
	entryIds := make([]int, 0, len(deltasByEntry))
	for entryId := range deltasByEntry {
		entryIds = append(entryIds, entryId)
	}
	sort.Ints(entryIds)

	adjustmentDate, err := adjustmentDateForCompany(ctx, tx, companyId)
	if err != nil {
		return nil, err
	}
	var adjustedEntries []int
	for _, entryId := range entryIds {
		moneyDelta := utils.RoundMoney(deltasByEntry[entryId])
		if moneyDelta.IsZero() {
			continue
		}
		adjusted, err := restateCostEntry(ctx, tx, entryId, moneyDelta, adjustmentDate)
		if err != nil {
			return nil, err
		}
		if adjusted {
			adjustedEntries = append(adjustedEntries, entryId)
		}
	}
	return adjustedEntries, nil
}

// affectedStockKeys lists the (location, item) keys with any move on or after
// fromDate. Keys untouched since fromDate cannot have a changed cost path.
func affectedStockKeys(ctx context.Context, tx *gorm.DB, companyId string, fromDate time.Time) ([]stockKey, error) {
	var keys []stockKey
	err := tx.WithContext(ctx).Model(&StockMove{}).
		Select("DISTINCT location_id, item_id").
		Where("company_id = ? AND move_date >= ?", companyId, fromDate).
		Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// recostStockKey re-folds one key's full move log from scratch, persists any
// OUT cost rewrites and refreshes the balance projection. The balance row is
// locked first so no concurrent move interleaves with the rewrite.
func recostStockKey(ctx context.Context, tx *gorm.DB, companyId string, key stockKey) ([]RevisedMoveCost, error) {
	balance, err := lockStockBalance(ctx, tx, companyId, key.LocationId, key.ItemId)
	if err != nil {
		return nil, err
	}

	var moves []*StockMove
	if err := tx.WithContext(ctx).
		Where("company_id = ? AND location_id = ? AND item_id = ?", companyId, key.LocationId, key.ItemId).
		Order("move_date ASC, created_at ASC").
		Find(&moves).Error; err != nil {
		return nil, err
	}

	state := BalanceState{}
	var revisions []RevisedMoveCost
	for _, mv := range moves {
		newState, unitCost, totalCost, err := applyMoveToState(state, mv)
		if err != nil {
			return nil, fmt.Errorf("recalc failed for location %d item %d at move dated %s: %w",
				key.LocationId, key.ItemId, mv.MoveDate.Format("2006-01-02"), err)
		}
		state = newState
		if mv.Direction == MoveDirectionOut &&
			(!mv.UnitCostApplied.Equal(unitCost) || !mv.TotalCostApplied.Equal(totalCost)) {
			revisions = append(revisions, RevisedMoveCost{
				MoveId:         mv.ID,
				JournalEntryId: mv.JournalEntryId,
				MoveDate:       mv.MoveDate,
				OldUnitCost:    mv.UnitCostApplied,
				OldTotalCost:   mv.TotalCostApplied,
				NewUnitCost:    unitCost,
				NewTotalCost:   totalCost,
			})
		}
	}

	for _, rev := range revisions {
		if err := tx.WithContext(ctx).Model(&StockMove{}).
			Where("id = ? AND company_id = ?", rev.MoveId, companyId).
			Updates(map[string]interface{}{
				"unit_cost_applied":  rev.NewUnitCost,
				"total_cost_applied": rev.NewTotalCost,
			}).Error; err != nil {
			return nil, err
		}
	}
	if err := writeStockBalance(ctx, tx, balance, state, balance.LastMoveDate); err != nil {
		return nil, err
	}
	return revisions, nil
}

// restateCostEntry routes one journal entry's cost delta through the
// adjustment engine. Stock-linked entries are pure cost entries (cost-of-goods
// debit against inventory credit for issues), so the restated line set is the
// original scaled to the new cost total.
//
// The delta is relative to the moves' currently persisted costs, which a prior
// recalculation may already have restated, so the new total is built on the
// entry's effective total (original plus active adjustment), never the
// original alone.
//
// Returns false when the delta rounds away or the entry is already reversed.
func restateCostEntry(ctx context.Context, tx *gorm.DB, entryId int, moneyDelta decimal.Decimal, adjustmentDate time.Time) (bool, error) {
	companyId, _ := utils.GetCompanyIdFromContext(ctx)
	entry, err := utils.FetchModelForUpdate[JournalEntry](ctx, tx, companyId, entryId)
	if err != nil {
		return false, err
	}
	if entry.ReversedByJournalEntryId != nil || entry.IsVoid {
		// A reversed or voided cost entry has no live ledger impact left to
		// restate; the replayed move cost stands on its own.
		return false, nil
	}
	if err := tx.WithContext(ctx).Where("journal_entry_id = ?", entry.ID).
		Order("id ASC").Find(&entry.Lines).Error; err != nil {
		return false, err
	}

	activeAdjustment, err := findActiveAdjustment(ctx, tx, companyId, entry.ID)
	if err != nil {
		return false, err
	}
	desired, err := scaleEntryLines(entry, effectiveEntryTotal(entry, activeAdjustment).Add(moneyDelta))
	if err != nil {
		return false, err
	}
	adjustment, err := AdjustJournalEntry(ctx, tx, entry.ID, desired, adjustmentDate, "cost recalculation")
	if err != nil {
		return false, err
	}
	return adjustment != nil, nil
}

// effectiveEntryTotal is the entry's debit total after folding in the active
// adjustment, i.e. what the ledger currently carries for the document.
func effectiveEntryTotal(entry *JournalEntry, activeAdjustment *JournalEntry) decimal.Decimal {
	if activeAdjustment == nil {
		return entry.TotalAmount
	}
	nets := netBalancesByAccount(entry.Lines)
	for id, net := range netBalancesByAccount(activeAdjustment.Lines) {
		nets[id] = utils.RoundMoney(nets[id].Add(net))
	}
	total := decimal.Zero
	for _, net := range nets {
		if net.IsPositive() {
			total = total.Add(net)
		}
	}
	return utils.RoundMoney(total)
}

// scaleEntryLines restates an entry's lines proportionally to a new total,
// pinning any rounding drift on the largest debit and largest credit so the
// result still balances to the new total exactly.
func scaleEntryLines(entry *JournalEntry, newTotal decimal.Decimal) ([]NewJournalLine, error) {
	if !entry.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("journal entry %d has non-positive total, cannot restate", entry.ID)
	}
	newTotal = utils.RoundMoney(newTotal)
	if !newTotal.IsPositive() {
		return nil, fmt.Errorf("restated total for journal entry %d is not positive", entry.ID)
	}
	ratio := newTotal.Div(entry.TotalAmount)

	lines := make([]NewJournalLine, 0, len(entry.Lines))
	var debitSum, creditSum decimal.Decimal
	largestDebit, largestCredit := -1, -1
	for i, line := range entry.Lines {
		scaled := NewJournalLine{AccountId: line.AccountId}
		if line.Debit.IsPositive() {
			scaled.Debit = utils.RoundMoney(line.Debit.Mul(ratio))
			debitSum = debitSum.Add(scaled.Debit)
			if largestDebit < 0 || scaled.Debit.GreaterThan(lines[largestDebit].Debit) {
				largestDebit = i
			}
		} else {
			scaled.Credit = utils.RoundMoney(line.Credit.Mul(ratio))
			creditSum = creditSum.Add(scaled.Credit)
			if largestCredit < 0 || scaled.Credit.GreaterThan(lines[largestCredit].Credit) {
				largestCredit = i
			}
		}
		lines = append(lines, scaled)
	}
	if largestDebit < 0 || largestCredit < 0 {
		return nil, fmt.Errorf("journal entry %d is missing a debit or credit side", entry.ID)
	}
	lines[largestDebit].Debit = lines[largestDebit].Debit.Add(newTotal.Sub(debitSum))
	lines[largestCredit].Credit = lines[largestCredit].Credit.Add(newTotal.Sub(creditSum))
	return lines, nil
}

// adjustmentDateForCompany is today in the company's timezone, date-truncated.
// Cost corrections always post in the current open period.
func adjustmentDateForCompany(ctx context.Context, tx *gorm.DB, companyId string) (time.Time, error) {
	var company Company
	if err := tx.WithContext(ctx).Where("id = ?", companyId).First(&company).Error; err != nil {
		return time.Time{}, err
	}
	return utils.ConvertToDate(time.Now(), company.Timezone)
}

package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func day(n int) time.Time {
	return time.Date(2026, 1, n, 0, 0, 0, 0, time.UTC)
}

func inMove(id string, n int, qty, unitCost string) *StockMove {
	q := d(qty)
	u := d(unitCost)
	return &StockMove{
		ID:               id,
		MoveDate:         day(n),
		MoveType:         StockMoveTypePurchaseReceipt,
		Direction:        MoveDirectionIn,
		Qty:              q,
		UnitCostApplied:  u,
		TotalCostApplied: q.Mul(u),
		CreatedAt:        day(n),
	}
}

func outMove(id string, n int, qty, appliedUnitCost string) *StockMove {
	q := d(qty)
	u := d(appliedUnitCost)
	return &StockMove{
		ID:               id,
		MoveDate:         day(n),
		MoveType:         StockMoveTypeSaleIssue,
		Direction:        MoveDirectionOut,
		Qty:              q,
		UnitCostApplied:  u,
		TotalCostApplied: q.Mul(u),
		CreatedAt:        day(n),
	}
}

func TestFoldMoves_AverageCost(t *testing.T) {
	state, err := FoldMoves([]*StockMove{
		inMove("a", 1, "10", "5.00"),
		inMove("b", 2, "10", "7.00"),
	})
	if err != nil {
		t.Fatalf("FoldMoves: %v", err)
	}
	if !state.Qty.Equal(d("20")) {
		t.Fatalf("qty = %s, want 20", state.Qty)
	}
	if !state.Value.Equal(d("120")) {
		t.Fatalf("value = %s, want 120", state.Value)
	}
	if !state.AvgUnitCost.Equal(d("6")) {
		t.Fatalf("avg = %s, want 6", state.AvgUnitCost)
	}
}

func TestFoldMoves_IssueUsesRunningAverage(t *testing.T) {
	state, err := FoldMoves([]*StockMove{
		inMove("a", 1, "10", "5.00"),
		outMove("b", 2, "4", "5.00"),
	})
	if err != nil {
		t.Fatalf("FoldMoves: %v", err)
	}
	if !state.Qty.Equal(d("6")) {
		t.Fatalf("qty = %s, want 6", state.Qty)
	}
	if !state.Value.Equal(d("30")) {
		t.Fatalf("value = %s, want 30", state.Value)
	}
}

func TestFoldMoves_NeverNegative(t *testing.T) {
	_, err := FoldMoves([]*StockMove{
		inMove("a", 1, "3", "5.00"),
		outMove("b", 2, "4", "5.00"),
	})
	if !errors.Is(err, ErrorInsufficientStock) {
		t.Fatalf("err = %v, want ErrorInsufficientStock", err)
	}
}

func TestFoldMoves_DrainToZeroClearsResidualValue(t *testing.T) {
	// 3 units for a total of 10.00 gives a repeating average; the final issue
	// must absorb the rounding residue so an empty bin carries no value.
	in := inMove("a", 1, "3", "0")
	in.TotalCostApplied = d("10.00")
	state, err := FoldMoves([]*StockMove{
		in,
		outMove("b", 2, "3", "0"),
	})
	if err != nil {
		t.Fatalf("FoldMoves: %v", err)
	}
	if !state.Qty.IsZero() {
		t.Fatalf("qty = %s, want 0", state.Qty)
	}
	if !state.Value.IsZero() {
		t.Fatalf("value = %s, want 0", state.Value)
	}
	if !state.AvgUnitCost.IsZero() {
		t.Fatalf("avg = %s, want 0 at zero qty", state.AvgUnitCost)
	}
}

func TestApplyMoveToState_ValueAdjustmentNeedsStockOnHand(t *testing.T) {
	mv := &StockMove{
		MoveDate:         day(1),
		MoveType:         StockMoveTypeValueAdjustment,
		Direction:        MoveDirectionIn,
		Qty:              decimal.Zero,
		TotalCostApplied: d("10"),
	}
	_, _, _, err := applyMoveToState(BalanceState{}, mv)
	if !errors.Is(err, ErrorValueAdjustmentAtZeroQty) {
		t.Fatalf("err = %v, want ErrorValueAdjustmentAtZeroQty", err)
	}
}

func TestApplyMoveToState_ValueAdjustmentSpreadsOverQty(t *testing.T) {
	state := BalanceState{Qty: d("10"), AvgUnitCost: d("5"), Value: d("50")}
	mv := &StockMove{
		MoveDate:         day(2),
		MoveType:         StockMoveTypeValueAdjustment,
		Direction:        MoveDirectionIn,
		Qty:              decimal.Zero,
		TotalCostApplied: d("10"),
	}
	newState, _, _, err := applyMoveToState(state, mv)
	if err != nil {
		t.Fatalf("applyMoveToState: %v", err)
	}
	if !newState.Qty.Equal(d("10")) {
		t.Fatalf("qty = %s, want unchanged 10", newState.Qty)
	}
	if !newState.Value.Equal(d("60")) {
		t.Fatalf("value = %s, want 60", newState.Value)
	}
	if !newState.AvgUnitCost.Equal(d("6")) {
		t.Fatalf("avg = %s, want 6", newState.AvgUnitCost)
	}
}

// Backdated receipt scenario: 10 @ 5.00 on day 1, issue 4 on day 3 (costed at
// 5.00), then a receipt of 10 @ 7.00 arrives backdated to day 2. The issue
// must be re-costed to the new running average of 6.00.
func TestReplayMovesWithInsert_BackdatedReceiptReCostsLaterIssue(t *testing.T) {
	existing := []*StockMove{
		inMove("a", 1, "10", "5.00"),
		outMove("b", 3, "4", "5.00"),
	}
	entryId := 41
	existing[1].JournalEntryId = &entryId

	inserted := inMove("c", 2, "10", "7.00")
	result, err := ReplayMovesWithInsert(existing, inserted)
	if err != nil {
		t.Fatalf("ReplayMovesWithInsert: %v", err)
	}

	if !result.InsertedUnitCost.Equal(d("7.00")) {
		t.Fatalf("inserted unit cost = %s, want 7.00", result.InsertedUnitCost)
	}
	if !result.EarliestAffectedDate.Equal(day(2)) {
		t.Fatalf("earliest affected = %s, want day 2", result.EarliestAffectedDate)
	}
	if len(result.RevisedMoves) != 1 {
		t.Fatalf("revised moves = %d, want 1", len(result.RevisedMoves))
	}
	rev := result.RevisedMoves[0]
	if rev.MoveId != "b" {
		t.Fatalf("revised move id = %s, want b", rev.MoveId)
	}
	if rev.JournalEntryId == nil || *rev.JournalEntryId != entryId {
		t.Fatalf("revised journal link = %v, want %d", rev.JournalEntryId, entryId)
	}
	if !rev.NewUnitCost.Equal(d("6")) {
		t.Fatalf("new unit cost = %s, want 6", rev.NewUnitCost)
	}
	if !rev.NewTotalCost.Equal(d("24")) {
		t.Fatalf("new total cost = %s, want 24", rev.NewTotalCost)
	}
	if !rev.OldTotalCost.Equal(d("20")) {
		t.Fatalf("old total cost = %s, want 20", rev.OldTotalCost)
	}

	if !result.FinalBalance.Qty.Equal(d("16")) {
		t.Fatalf("final qty = %s, want 16", result.FinalBalance.Qty)
	}
	if !result.FinalBalance.Value.Equal(d("96")) {
		t.Fatalf("final value = %s, want 96", result.FinalBalance.Value)
	}
	if !result.FinalBalance.AvgUnitCost.Equal(d("6")) {
		t.Fatalf("final avg = %s, want 6", result.FinalBalance.AvgUnitCost)
	}
}

// A backdated issue must not create a deficit at any later point in the
// timeline, even if the final quantity would stay non-negative.
func TestReplayMovesWithInsert_BackdatedIssueCannotCreateDeficit(t *testing.T) {
	existing := []*StockMove{
		inMove("a", 1, "10", "5.00"),
		outMove("b", 3, "4", "5.00"),
	}
	inserted := outMove("c", 2, "8", "0")
	_, err := ReplayMovesWithInsert(existing, inserted)
	if !errors.Is(err, ErrorInsufficientStock) {
		t.Fatalf("err = %v, want ErrorInsufficientStock", err)
	}
}

func TestReplayMovesWithInsert_BackdatedReceiptCoversLaterIssue(t *testing.T) {
	existing := []*StockMove{
		inMove("a", 1, "2", "5.00"),
		outMove("b", 3, "2", "5.00"),
	}
	inserted := inMove("c", 2, "5", "5.00")
	result, err := ReplayMovesWithInsert(existing, inserted)
	if err != nil {
		t.Fatalf("ReplayMovesWithInsert: %v", err)
	}
	if !result.FinalBalance.Qty.Equal(d("5")) {
		t.Fatalf("final qty = %s, want 5", result.FinalBalance.Qty)
	}
}

func TestReplayMovesWithInsert_SameDateFoldsAfterExisting(t *testing.T) {
	existing := []*StockMove{
		inMove("a", 1, "10", "5.00"),
		outMove("b", 2, "10", "5.00"),
	}
	// Same date as the drain: folds after it, so the issue stays covered.
	inserted := inMove("c", 2, "3", "8.00")
	result, err := ReplayMovesWithInsert(existing, inserted)
	if err != nil {
		t.Fatalf("ReplayMovesWithInsert: %v", err)
	}
	if !result.FinalBalance.Qty.Equal(d("3")) {
		t.Fatalf("final qty = %s, want 3", result.FinalBalance.Qty)
	}
	if !result.FinalBalance.AvgUnitCost.Equal(d("8")) {
		t.Fatalf("final avg = %s, want 8", result.FinalBalance.AvgUnitCost)
	}
}

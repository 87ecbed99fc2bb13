package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrorInsufficientStock = errors.New("insufficient stock")
	// ErrorValueAdjustmentAtZeroQty: average cost is undefined at zero quantity,
	// so a value-only shift has nothing to attach to.
	ErrorValueAdjustmentAtZeroQty = errors.New("value adjustment requires stock on hand")
)

// costPrecision is the scale for unit costs and inventory values. Ledger
// amounts derived from these are rounded to money precision at posting time.
const costPrecision = 4

// BalanceState is the in-memory WAC state for one (company, location, item)
// key: the running fold of its move log.
type BalanceState struct {
	Qty         decimal.Decimal
	AvgUnitCost decimal.Decimal
	Value       decimal.Decimal
}

// applyMoveToState folds one move into the state, returning the new state and
// the applied unit/total cost for the move.
//
// IN:  qty and value accumulate; average cost is value/qty afterwards.
// OUT: the applied unit cost IS the current average cost; quantity may never
//      go negative. Overdraw fails the move, it is never clamped.
// A zero-qty IN (VALUE_ADJUSTMENT) shifts value only and needs qty > 0.
func applyMoveToState(state BalanceState, mv *StockMove) (BalanceState, decimal.Decimal, decimal.Decimal, error) {
	switch mv.Direction {
	case MoveDirectionIn:
		if mv.Qty.IsZero() {
			// Value-only adjustment (landed cost capitalization after the fact).
			if mv.MoveType != StockMoveTypeValueAdjustment {
				return state, decimal.Zero, decimal.Zero, errors.New("zero-qty move must be a value adjustment")
			}
			if !state.Qty.IsPositive() {
				return state, decimal.Zero, decimal.Zero, ErrorValueAdjustmentAtZeroQty
			}
			newValue := state.Value.Add(mv.TotalCostApplied)
			newState := BalanceState{
				Qty:         state.Qty,
				Value:       newValue,
				AvgUnitCost: newValue.DivRound(state.Qty, costPrecision),
			}
			return newState, mv.UnitCostApplied, mv.TotalCostApplied, nil
		}

		totalCost := mv.TotalCostApplied
		if totalCost.IsZero() && !mv.UnitCostApplied.IsZero() {
			totalCost = mv.Qty.Mul(mv.UnitCostApplied).Round(costPrecision)
		}
		newQty := state.Qty.Add(mv.Qty)
		newValue := state.Value.Add(totalCost)
		newState := BalanceState{Qty: newQty, Value: newValue}
		if newQty.IsZero() {
			newState.AvgUnitCost = decimal.Zero
		} else {
			newState.AvgUnitCost = newValue.DivRound(newQty, costPrecision)
		}
		unitCost := mv.UnitCostApplied
		if unitCost.IsZero() && !mv.Qty.IsZero() {
			unitCost = totalCost.DivRound(mv.Qty, costPrecision)
		}
		return newState, unitCost, totalCost, nil

	case MoveDirectionOut:
		newQty := state.Qty.Sub(mv.Qty)
		if newQty.IsNegative() {
			return state, decimal.Zero, decimal.Zero,
				fmt.Errorf("%w: on hand %s, requested %s", ErrorInsufficientStock, state.Qty, mv.Qty)
		}
		unitCost := state.AvgUnitCost
		totalCost := mv.Qty.Mul(unitCost).Round(costPrecision)
		newValue := state.Value.Sub(totalCost)
		newState := BalanceState{Qty: newQty, Value: newValue}
		if newQty.IsZero() {
			// Drain any rounding residue with the final issue so an empty bin
			// never carries phantom value.
			totalCost = totalCost.Add(newValue)
			newState.Value = decimal.Zero
			newState.AvgUnitCost = decimal.Zero
		} else {
			newState.AvgUnitCost = newState.Value.DivRound(newQty, costPrecision)
		}
		return newState, unitCost, totalCost, nil
	}
	return state, decimal.Zero, decimal.Zero, errors.New("invalid stock move direction")
}

// sortMovesChronologically orders a move log for folding: by move date, then
// insertion order. Stable so equal timestamps keep their original sequence.
func sortMovesChronologically(moves []*StockMove) {
	sort.SliceStable(moves, func(i, j int) bool {
		if !moves[i].MoveDate.Equal(moves[j].MoveDate) {
			return moves[i].MoveDate.Before(moves[j].MoveDate)
		}
		return moves[i].CreatedAt.Before(moves[j].CreatedAt)
	})
}

// RevisedMoveCost records a cost rewrite a replay decided for one existing move.
type RevisedMoveCost struct {
	MoveId           string
	JournalEntryId   *int
	MoveDate         time.Time
	OldUnitCost      decimal.Decimal
	OldTotalCost     decimal.Decimal
	NewUnitCost      decimal.Decimal
	NewTotalCost     decimal.Decimal
}

// ReplayResult is the outcome of the pure backdated-insert replay. Persistence
// happens separately: the caller writes the new move, rewrites the revised
// moves' cost fields and updates the balance projection.
type ReplayResult struct {
	// InsertedUnitCost / InsertedTotalCost are the inserted move's applied
	// costs computed at its chronological position, not at "now".
	InsertedUnitCost  decimal.Decimal
	InsertedTotalCost decimal.Decimal
	RevisedMoves      []RevisedMoveCost
	FinalBalance      BalanceState
	// EarliestAffectedDate is where forward recalculation must start.
	EarliestAffectedDate time.Time
}

// ReplayMovesWithInsert splices the inserted move into its chronological
// position within the existing (already persisted) move log for one key and
// re-folds the whole timeline. The never-negative invariant is re-validated
// across the ENTIRE resulting timeline: a backdated issue can create a deficit
// at a point that was previously fine, and a backdated receipt can legitimize
// a previously impossible sequence.
//
// Pure function over (existing moves, inserted move); no I/O.
func ReplayMovesWithInsert(existing []*StockMove, inserted *StockMove) (*ReplayResult, error) {
	if inserted == nil {
		return nil, errors.New("inserted move is nil")
	}

	timeline := make([]*StockMove, 0, len(existing)+1)
	for _, mv := range existing {
		copied := *mv
		timeline = append(timeline, &copied)
	}
	insertedCopy := *inserted
	// A backdated move folds after existing moves on the same date.
	insertedCopy.CreatedAt = time.Now().UTC()
	timeline = append(timeline, &insertedCopy)
	sortMovesChronologically(timeline)

	result := &ReplayResult{EarliestAffectedDate: inserted.MoveDate}
	state := BalanceState{}
	for _, mv := range timeline {
		newState, unitCost, totalCost, err := applyMoveToState(state, mv)
		if err != nil {
			return nil, fmt.Errorf("replay failed at %s move dated %s: %w", mv.MoveType, mv.MoveDate.Format("2006-01-02"), err)
		}
		state = newState

		if mv == &insertedCopy {
			result.InsertedUnitCost = unitCost
			result.InsertedTotalCost = totalCost
			continue
		}
		if mv.Direction == MoveDirectionOut &&
			(!mv.UnitCostApplied.Equal(unitCost) || !mv.TotalCostApplied.Equal(totalCost)) {
			result.RevisedMoves = append(result.RevisedMoves, RevisedMoveCost{
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

	result.FinalBalance = state
	return result, nil
}

// FoldMoves re-folds a full move log from scratch, returning the final
// balance. Used by the balance rebuild tool and consistency checks.
func FoldMoves(moves []*StockMove) (BalanceState, error) {
	timeline := make([]*StockMove, len(moves))
	copy(timeline, moves)
	sortMovesChronologically(timeline)

	state := BalanceState{}
	for _, mv := range timeline {
		newState, _, _, err := applyMoveToState(state, mv)
		if err != nil {
			return state, fmt.Errorf("fold failed at %s move dated %s: %w", mv.MoveType, mv.MoveDate.Format("2006-01-02"), err)
		}
		state = newState
	}
	return state, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewStockMove is the command input for appending one inventory move.
type NewStockMove struct {
	LocationId int           `json:"location_id" validate:"required"`
	ItemId     int           `json:"item_id" validate:"required"`
	MoveDate   time.Time     `json:"move_date" validate:"required"`
	MoveType   StockMoveType `json:"move_type" validate:"required"`
	// Direction is only consulted for ADJUSTMENT, which can go either way.
	// Typed moves derive it from the move type.
	Direction MoveDirection   `json:"direction"`
	Qty       decimal.Decimal `json:"qty"`
	// UnitCost is required for IN moves; OUT issues have their cost computed
	// from the running average and any caller-supplied cost is ignored.
	UnitCost       decimal.Decimal `json:"unit_cost"`
	JournalEntryId *int            `json:"journal_entry_id"`
	DocRef         string          `json:"doc_ref"`
}

// StockMoveResult is what a persisted move changed.
type StockMoveResult struct {
	Move    *StockMove
	Balance *StockBalance
	// Revised lists existing OUT moves whose applied costs were rewritten by a
	// backdated insert. Each one's ledger impact must be routed through
	// journal adjustment; forward recalculation starts at EarliestAffectedDate.
	Revised              []RevisedMoveCost
	EarliestAffectedDate *time.Time
}

func (input *NewStockMove) resolveDirection() (MoveDirection, error) {
	if implied, ok := DirectionForMoveType(input.MoveType); ok {
		return implied, nil
	}
	if !input.Direction.IsValid() {
		return "", errors.New("direction is required for adjustment moves")
	}
	return input.Direction, nil
}

// ApplyStockMove appends a move for one (location, item) key inside tx,
// updating the cached balance projection. A move dated before the balance's
// last move date is a backdated insert and takes the full-replay path.
//
// Callers serialize writers per stock key with utils.WithLock before opening
// the transaction; the FOR UPDATE on the balance row is the fallback when the
// lock service is degraded.
func ApplyStockMove(ctx context.Context, tx *gorm.DB, input *NewStockMove) (*StockMoveResult, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, errors.New("company id not found in context")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	direction, err := input.resolveDirection()
	if err != nil {
		return nil, err
	}
	if input.Qty.IsNegative() {
		return nil, errors.New("stock move qty must not be negative")
	}
	if input.Qty.IsZero() && input.MoveType != StockMoveTypeValueAdjustment {
		return nil, errors.New("stock move qty must be positive")
	}
	if err := validatePostingDate(ctx, tx, companyId, input.MoveDate); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Location](ctx, companyId, input.LocationId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Item](ctx, companyId, input.ItemId); err != nil {
		return nil, err
	}

	balance, err := lockStockBalance(ctx, tx, companyId, input.LocationId, input.ItemId)
	if err != nil {
		return nil, err
	}

	move := &StockMove{
		CompanyId:      companyId,
		LocationId:     input.LocationId,
		ItemId:         input.ItemId,
		MoveDate:       input.MoveDate,
		MoveType:       input.MoveType,
		Direction:      direction,
		Qty:            input.Qty,
		JournalEntryId: input.JournalEntryId,
		DocRef:         input.DocRef,
		CorrelationId:  correlationIdFromContextOrNew(ctx),
	}
	if direction == MoveDirectionIn {
		move.UnitCostApplied = utils.RoundRate(input.UnitCost)
		move.TotalCostApplied = input.Qty.Mul(move.UnitCostApplied).Round(costPrecision)
	}

	backdated := !balance.LastMoveDate.IsZero() && input.MoveDate.Before(balance.LastMoveDate)
	if backdated {
		return applyBackdatedStockMove(ctx, tx, balance, move)
	}

	state := BalanceState{Qty: balance.QtyOnHand, AvgUnitCost: balance.AvgUnitCost, Value: balance.TotalValue}
	newState, unitCost, totalCost, err := applyMoveToState(state, move)
	if err != nil {
		return nil, err
	}
	move.UnitCostApplied = unitCost
	move.TotalCostApplied = totalCost
	if err := tx.WithContext(ctx).Create(move).Error; err != nil {
		return nil, err
	}
	if err := writeStockBalance(ctx, tx, balance, newState, input.MoveDate); err != nil {
		return nil, err
	}
	return &StockMoveResult{Move: move, Balance: balance}, nil
}

// applyBackdatedStockMove splices the move into its chronological slot,
// re-folds the key's whole move log and rewrites the applied costs of any
// later OUT moves the new cost path changed. The balance row stays locked for
// the duration, so no concurrent move can interleave with the rewrite.
func applyBackdatedStockMove(ctx context.Context, tx *gorm.DB, balance *StockBalance, move *StockMove) (*StockMoveResult, error) {
	var existing []*StockMove
	if err := tx.WithContext(ctx).
		Where("company_id = ? AND location_id = ? AND item_id = ?", move.CompanyId, move.LocationId, move.ItemId).
		Order("move_date ASC, created_at ASC").
		Find(&existing).Error; err != nil {
		return nil, err
	}

	replay, err := ReplayMovesWithInsert(existing, move)
	if err != nil {
		return nil, err
	}

	move.UnitCostApplied = replay.InsertedUnitCost
	move.TotalCostApplied = replay.InsertedTotalCost
	if err := tx.WithContext(ctx).Create(move).Error; err != nil {
		return nil, err
	}
	for _, rev := range replay.RevisedMoves {
		if err := tx.WithContext(ctx).Model(&StockMove{}).
			Where("id = ? AND company_id = ?", rev.MoveId, move.CompanyId).
			Updates(map[string]interface{}{
				"unit_cost_applied":  rev.NewUnitCost,
				"total_cost_applied": rev.NewTotalCost,
			}).Error; err != nil {
			return nil, err
		}
	}
	// LastMoveDate stays at the latest move in the log, which the backdated
	// insert by definition does not advance.
	if err := writeStockBalance(ctx, tx, balance, replay.FinalBalance, balance.LastMoveDate); err != nil {
		return nil, err
	}

	earliest := replay.EarliestAffectedDate
	return &StockMoveResult{
		Move:                 move,
		Balance:              balance,
		Revised:              replay.RevisedMoves,
		EarliestAffectedDate: &earliest,
	}, nil
}

// ApplyValueAdjustment shifts on-hand value without moving quantity, e.g.
// capitalizing freight onto stock after the goods were received. On-hand qty
// must be strictly positive or there is nothing to spread the cost over.
func ApplyValueAdjustment(ctx context.Context, tx *gorm.DB, locationId int, itemId int, adjustmentDate time.Time, amount decimal.Decimal, docRef string) (*StockMoveResult, error) {
	if amount.IsZero() {
		return nil, errors.New("value adjustment amount must not be zero")
	}
	input := &NewStockMove{
		LocationId: locationId,
		ItemId:     itemId,
		MoveDate:   adjustmentDate,
		MoveType:   StockMoveTypeValueAdjustment,
		Direction:  MoveDirectionIn,
		Qty:        decimal.Zero,
		DocRef:     docRef,
	}
	// Sign lives in the total cost; qty stays zero either way.
	result, err := applyValueAdjustmentMove(ctx, tx, input, amount)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyValueAdjustmentMove(ctx context.Context, tx *gorm.DB, input *NewStockMove, amount decimal.Decimal) (*StockMoveResult, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, errors.New("company id not found in context")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := validatePostingDate(ctx, tx, companyId, input.MoveDate); err != nil {
		return nil, err
	}
	balance, err := lockStockBalance(ctx, tx, companyId, input.LocationId, input.ItemId)
	if err != nil {
		return nil, err
	}
	if !balance.QtyOnHand.IsPositive() {
		return nil, ErrorValueAdjustmentAtZeroQty
	}

	move := &StockMove{
		CompanyId:        companyId,
		LocationId:       input.LocationId,
		ItemId:           input.ItemId,
		MoveDate:         input.MoveDate,
		MoveType:         StockMoveTypeValueAdjustment,
		Direction:        MoveDirectionIn,
		Qty:              decimal.Zero,
		TotalCostApplied: amount.Round(costPrecision),
		DocRef:           input.DocRef,
		CorrelationId:    correlationIdFromContextOrNew(ctx),
	}

	if !balance.LastMoveDate.IsZero() && input.MoveDate.Before(balance.LastMoveDate) {
		return applyBackdatedStockMove(ctx, tx, balance, move)
	}

	state := BalanceState{Qty: balance.QtyOnHand, AvgUnitCost: balance.AvgUnitCost, Value: balance.TotalValue}
	newState, _, _, err := applyMoveToState(state, move)
	if err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(move).Error; err != nil {
		return nil, err
	}
	if err := writeStockBalance(ctx, tx, balance, newState, input.MoveDate); err != nil {
		return nil, err
	}
	return &StockMoveResult{Move: move, Balance: balance}, nil
}

// lockStockBalance reads the balance row FOR UPDATE, creating it on first use.
func lockStockBalance(ctx context.Context, tx *gorm.DB, companyId string, locationId int, itemId int) (*StockBalance, error) {
	var balance StockBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND location_id = ? AND item_id = ?", companyId, locationId, itemId).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = StockBalance{CompanyId: companyId, LocationId: locationId, ItemId: itemId}
		if err := tx.WithContext(ctx).Create(&balance).Error; err != nil {
			// Concurrent first move for this key: retry the locked read once.
			err2 := tx.WithContext(ctx).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("company_id = ? AND location_id = ? AND item_id = ?", companyId, locationId, itemId).
				First(&balance).Error
			if err2 != nil {
				return nil, err
			}
		}
		return &balance, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func writeStockBalance(ctx context.Context, tx *gorm.DB, balance *StockBalance, state BalanceState, lastMoveDate time.Time) error {
	balance.QtyOnHand = state.Qty
	balance.AvgUnitCost = state.AvgUnitCost
	balance.TotalValue = state.Value
	if lastMoveDate.After(balance.LastMoveDate) {
		balance.LastMoveDate = lastMoveDate
	}
	return tx.WithContext(ctx).Model(&StockBalance{}).
		Where("id = ?", balance.ID).
		Updates(map[string]interface{}{
			"qty_on_hand":    balance.QtyOnHand,
			"avg_unit_cost":  balance.AvgUnitCost,
			"total_value":    balance.TotalValue,
			"last_move_date": balance.LastMoveDate,
		}).Error
}

// RebuildStockBalance recomputes one key's projection from its move log.
// Used by the balance rebuild tool after manual data surgery.
func RebuildStockBalance(ctx context.Context, locationId int, itemId int) (*StockBalance, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, errors.New("company id not found in context")
	}

	var balance *StockBalance
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = lockStockBalance(ctx, tx, companyId, locationId, itemId)
		if err != nil {
			return err
		}
		var moves []*StockMove
		if err := tx.WithContext(ctx).
			Where("company_id = ? AND location_id = ? AND item_id = ?", companyId, locationId, itemId).
			Order("move_date ASC, created_at ASC").
			Find(&moves).Error; err != nil {
			return err
		}
		state, err := FoldMoves(moves)
		if err != nil {
			return err
		}
		lastMoveDate := time.Time{}
		for _, mv := range moves {
			if mv.MoveDate.After(lastMoveDate) {
				lastMoveDate = mv.MoveDate
			}
		}
		balance.LastMoveDate = time.Time{}
		return writeStockBalance(ctx, tx, balance, state, lastMoveDate)
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMove is the append-only inventory audit trail. Rows are immutable once
// written, with one narrow exception: a backdated insert may rewrite the
// APPLIED COST fields of chronologically later OUT moves, because WAC is a
// running average and the cost path changed. Quantity, date, type and
// direction are never rewritten.
type StockMove struct {
	ID         string        `gorm:"size:36;primary_key" json:"id"` // uuid
	CompanyId  string        `gorm:"type:char(36);index:idx_stock_move_key_date,priority:1;not null" json:"company_id"`
	LocationId int           `gorm:"index:idx_stock_move_key_date,priority:2;not null" json:"location_id"`
	ItemId     int           `gorm:"index:idx_stock_move_key_date,priority:3;not null" json:"item_id"`
	MoveDate   time.Time     `gorm:"index:idx_stock_move_key_date,priority:4;not null" json:"move_date"`
	MoveType   StockMoveType `gorm:"size:20;not null" json:"move_type"`
	Direction  MoveDirection `gorm:"type:enum('IN','OUT');not null" json:"direction"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`

	// Applied costs: for IN moves these come from the document; for OUT issues
	// they are computed from the running average at the move's position.
	UnitCostApplied  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost_applied"`
	TotalCostApplied decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost_applied"`

	JournalEntryId *int      `gorm:"index" json:"journal_entry_id"`
	DocRef         string    `gorm:"size:100;index" json:"doc_ref"`
	CorrelationId  string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave enforces internal invariants for the move log.
//
// Direction must always agree with the move type for typed moves, and qty is
// never negative; an OUT is an OUT with positive qty, not an IN with negative
// qty. Mixed sign conventions are how valuation queries go wrong silently.
func (m *StockMove) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if m == nil {
		return nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Qty.IsNegative() {
		return errors.New("stock move qty must not be negative")
	}
	if !m.Direction.IsValid() {
		return errors.New("invalid stock move direction")
	}
	if implied, ok := DirectionForMoveType(m.MoveType); ok && implied != m.Direction {
		return errors.New("stock move direction does not match move type")
	}
	return nil
}

// StockBalance is a cached projection of the move log per
// (company, location, item): it must always equal the chronological fold of
// all StockMoves for that key. It is not a source of truth; the
// balance-rebuild tool can reconstruct it wholesale.
type StockBalance struct {
	ID         int    `gorm:"primary_key" json:"id"`
	CompanyId  string `gorm:"type:char(36);index:idx_stock_balance_key,unique,priority:1;not null" json:"company_id"`
	LocationId int    `gorm:"index:idx_stock_balance_key,unique,priority:2;not null" json:"location_id"`
	ItemId     int    `gorm:"index:idx_stock_balance_key,unique,priority:3;not null" json:"item_id"`

	QtyOnHand   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_on_hand"`
	AvgUnitCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_unit_cost"`
	TotalValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_value"`

	// LastMoveDate is the move date most recently folded into this balance;
	// an incoming move dated before it is a backdated insert.
	LastMoveDate time.Time `json:"last_move_date"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

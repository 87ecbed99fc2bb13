package workflow

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func postingLockTTL() time.Duration {
	if v := os.Getenv("POSTING_LOCK_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 30 * time.Second
}

// PostingRequest identifies one document posting for locking and idempotency.
type PostingRequest struct {
	// DocType names the producing document family (e.g. "invoice", "bill",
	// "stock-transfer"); it scopes the document lock key.
	DocType string
	DocId   int
	// IdempotencyKey is the client-supplied command key. Empty opts out of
	// replay protection.
	IdempotencyKey string
	// StockKeys are the utils.StockLockKey values for every (location, item)
	// the posting will touch. WithLock sorts them, so callers need not.
	StockKeys []string
}

// RunPostingOperation is the front door every document producer goes through:
// it takes the distributed locks for the affected stock keys plus the document
// itself, then executes fn exactly once per idempotency key inside one
// transaction. The bool reports whether a stored result was replayed.
func RunPostingOperation[T any](ctx context.Context, req PostingRequest, fn func(tx *gorm.DB) (*T, error)) (*T, bool, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, false, errors.New("company id not found in context")
	}
	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
		// Everything written under this posting (entry, moves, outbox rows)
		// shares one correlation id.
		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	}

	keys := make([]string, 0, len(req.StockKeys)+1)
	keys = append(keys, req.StockKeys...)
	keys = append(keys, utils.DocumentLockKey(req.DocType, companyId, req.DocId))

	var result *T
	var replayed bool
	err := utils.WithLock(ctx, keys, postingLockTTL(), func(ctx context.Context) error {
		var err error
		result, replayed, err = models.RunIdempotent(ctx, req.IdempotencyKey, req.DocType, fn)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, replayed, nil
}

// PostingResult is the combined outcome of a stock-affecting posting.
type PostingResult struct {
	JournalEntry *models.JournalEntry `json:"journal_entry"`
	StockMove    *models.StockMove    `json:"stock_move"`
	// AdjustedEntries lists journal entries the posting's cost replay had to
	// restate. Empty unless the move was backdated.
	AdjustedEntries []int `json:"adjusted_entries"`
}

// InventoryReceiptInput posts goods coming in: a stock IN move valued at the
// document's unit cost, with inventory debited against the supplied credit
// account (payables, opening balance equity, adjustment gain).
type InventoryReceiptInput struct {
	DocType        string
	DocId          int
	IdempotencyKey string

	LocationId  int
	ItemId      int
	ReceiptDate time.Time
	MoveType    models.StockMoveType
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal

	InventoryAccountId int
	CreditAccountId    int
	Description        string
	DocRef             string
}

func PostInventoryReceipt(ctx context.Context, input InventoryReceiptInput) (*PostingResult, bool, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, false, errors.New("company id not found in context")
	}
	moveType := input.MoveType
	if moveType == "" {
		moveType = models.StockMoveTypePurchaseReceipt
	}

	req := PostingRequest{
		DocType:        input.DocType,
		DocId:          input.DocId,
		IdempotencyKey: input.IdempotencyKey,
		StockKeys:      []string{utils.StockLockKey(companyId, input.LocationId, input.ItemId)},
	}
	return RunPostingOperation(ctx, req, func(tx *gorm.DB) (*PostingResult, error) {
		moveResult, err := models.ApplyStockMove(ctx, tx, &models.NewStockMove{
			LocationId: input.LocationId,
			ItemId:     input.ItemId,
			MoveDate:   input.ReceiptDate,
			MoveType:   moveType,
			Qty:        input.Qty,
			UnitCost:   input.UnitCost,
			DocRef:     input.DocRef,
		})
		if err != nil {
			return nil, err
		}
		entry, err := postStockCostEntry(ctx, tx, stockCostEntry{
			entryDate:   input.ReceiptDate,
			description: input.Description,
			docId:       input.DocId,
			locationId:  input.LocationId,
			cost:        moveResult.Move.TotalCostApplied,
			debitAcct:   input.InventoryAccountId,
			creditAcct:  input.CreditAccountId,
		}, moveResult.Move)
		if err != nil {
			return nil, err
		}
		adjusted, err := routeBackdatedRevisions(ctx, tx, companyId, moveResult)
		if err != nil {
			return nil, err
		}
		return &PostingResult{JournalEntry: entry, StockMove: moveResult.Move, AdjustedEntries: adjusted}, nil
	})
}

// InventoryIssueInput posts goods going out: a stock OUT move costed at the
// running average, with the cost account (COGS, adjustment loss, transfer
// clearing) debited against inventory.
type InventoryIssueInput struct {
	DocType        string
	DocId          int
	IdempotencyKey string

	LocationId int
	ItemId     int
	IssueDate  time.Time
	MoveType   models.StockMoveType
	Qty        decimal.Decimal

	CostAccountId      int
	InventoryAccountId int
	Description        string
	DocRef             string
}

func PostInventoryIssue(ctx context.Context, input InventoryIssueInput) (*PostingResult, bool, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, false, errors.New("company id not found in context")
	}
	moveType := input.MoveType
	if moveType == "" {
		moveType = models.StockMoveTypeSaleIssue
	}

	req := PostingRequest{
		DocType:        input.DocType,
		DocId:          input.DocId,
		IdempotencyKey: input.IdempotencyKey,
		StockKeys:      []string{utils.StockLockKey(companyId, input.LocationId, input.ItemId)},
	}
	return RunPostingOperation(ctx, req, func(tx *gorm.DB) (*PostingResult, error) {
		moveResult, err := models.ApplyStockMove(ctx, tx, &models.NewStockMove{
			LocationId: input.LocationId,
			ItemId:     input.ItemId,
			MoveDate:   input.IssueDate,
			MoveType:   moveType,
			Qty:        input.Qty,
			DocRef:     input.DocRef,
		})
		if err != nil {
			return nil, err
		}
		entry, err := postStockCostEntry(ctx, tx, stockCostEntry{
			entryDate:   input.IssueDate,
			description: input.Description,
			docId:       input.DocId,
			locationId:  input.LocationId,
			cost:        moveResult.Move.TotalCostApplied,
			debitAcct:   input.CostAccountId,
			creditAcct:  input.InventoryAccountId,
		}, moveResult.Move)
		if err != nil {
			return nil, err
		}
		adjusted, err := routeBackdatedRevisions(ctx, tx, companyId, moveResult)
		if err != nil {
			return nil, err
		}
		return &PostingResult{JournalEntry: entry, StockMove: moveResult.Move, AdjustedEntries: adjusted}, nil
	})
}

// ValueAdjustmentInput capitalizes (or writes off) value against stock on hand
// without moving quantity. Amount sign decides the posting direction.
type ValueAdjustmentInput struct {
	DocType        string
	DocId          int
	IdempotencyKey string

	LocationId     int
	ItemId         int
	AdjustmentDate time.Time
	Amount         decimal.Decimal

	InventoryAccountId  int
	AdjustmentAccountId int
	Description         string
	DocRef              string
}

func PostValueAdjustment(ctx context.Context, input ValueAdjustmentInput) (*PostingResult, bool, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, false, errors.New("company id not found in context")
	}

	req := PostingRequest{
		DocType:        input.DocType,
		DocId:          input.DocId,
		IdempotencyKey: input.IdempotencyKey,
		StockKeys:      []string{utils.StockLockKey(companyId, input.LocationId, input.ItemId)},
	}
	return RunPostingOperation(ctx, req, func(tx *gorm.DB) (*PostingResult, error) {
		moveResult, err := models.ApplyValueAdjustment(ctx, tx, input.LocationId, input.ItemId, input.AdjustmentDate, input.Amount, input.DocRef)
		if err != nil {
			return nil, err
		}
		// Positive amount adds value to stock: debit inventory. Negative
		// writes value off: debit the adjustment account instead.
		debitAcct, creditAcct := input.InventoryAccountId, input.AdjustmentAccountId
		if input.Amount.IsNegative() {
			debitAcct, creditAcct = input.AdjustmentAccountId, input.InventoryAccountId
		}
		entry, err := postStockCostEntry(ctx, tx, stockCostEntry{
			entryDate:   input.AdjustmentDate,
			description: input.Description,
			docId:       input.DocId,
			locationId:  input.LocationId,
			cost:        input.Amount.Abs(),
			debitAcct:   debitAcct,
			creditAcct:  creditAcct,
			refType:     models.LedgerReferenceTypeValuationAdjustment,
		}, moveResult.Move)
		if err != nil {
			return nil, err
		}
		adjusted, err := routeBackdatedRevisions(ctx, tx, companyId, moveResult)
		if err != nil {
			return nil, err
		}
		return &PostingResult{JournalEntry: entry, StockMove: moveResult.Move, AdjustedEntries: adjusted}, nil
	})
}

// ManualJournalInput posts a caller-shaped balanced entry under the document
// lock and idempotency wrapper.
type ManualJournalInput struct {
	DocType        string
	DocId          int
	IdempotencyKey string

	Entry models.NewJournalEntry
}

func PostManualJournal(ctx context.Context, input ManualJournalInput) (*models.JournalEntry, bool, error) {
	docType := input.DocType
	if docType == "" {
		docType = "journal"
	}
	req := PostingRequest{
		DocType:        docType,
		DocId:          input.DocId,
		IdempotencyKey: input.IdempotencyKey,
	}
	return RunPostingOperation(ctx, req, func(tx *gorm.DB) (*models.JournalEntry, error) {
		return models.PostJournalEntry(ctx, tx, &input.Entry)
	})
}

type stockCostEntry struct {
	entryDate   time.Time
	description string
	docId       int
	locationId  int
	cost        decimal.Decimal
	debitAcct   int
	creditAcct  int
	refType     models.LedgerReferenceType
}

// postStockCostEntry posts the two-line cost entry for a stock move and links
// the move to it. A zero cost (free receipt, issue from zero-value stock)
// posts nothing; there is no ledger impact to record.
func postStockCostEntry(ctx context.Context, tx *gorm.DB, e stockCostEntry, move *models.StockMove) (*models.JournalEntry, error) {
	amount := utils.RoundMoney(e.cost)
	if amount.IsZero() {
		return nil, nil
	}
	refType := e.refType
	if refType == "" {
		refType = models.LedgerReferenceTypeStockMove
	}
	entry, err := models.PostJournalEntry(ctx, tx, &models.NewJournalEntry{
		EntryDate:     e.entryDate,
		Description:   e.description,
		ReferenceType: refType,
		ReferenceId:   e.docId,
		LocationId:    e.locationId,
		Lines: []models.NewJournalLine{
			{AccountId: e.debitAcct, Debit: amount},
			{AccountId: e.creditAcct, Credit: amount},
		},
	})
	if err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Model(&models.StockMove{}).
		Where("id = ?", move.ID).
		Update("journal_entry_id", entry.ID).Error; err != nil {
		return nil, err
	}
	move.JournalEntryId = &entry.ID
	return entry, nil
}

func routeBackdatedRevisions(ctx context.Context, tx *gorm.DB, companyId string, moveResult *models.StockMoveResult) ([]int, error) {
	if len(moveResult.Revised) == 0 {
		return nil, nil
	}
	return models.RouteRevisedCosts(ctx, tx, companyId, moveResult.Revised)
}

package models

type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

func (e AccountType) IsValid() bool {
	switch e {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

func (e AccountType) String() string {
	return string(e)
}

type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

func (e NormalBalance) IsValid() bool {
	switch e {
	case NormalBalanceDebit, NormalBalanceCredit:
		return true
	}
	return false
}

// NormalBalanceForType returns the side an account of this type normally carries.
func NormalBalanceForType(t AccountType) NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

type StockMoveType string

const (
	StockMoveTypeOpening         StockMoveType = "OPENING"
	StockMoveTypeAdjustment      StockMoveType = "ADJUSTMENT"
	StockMoveTypeSaleIssue       StockMoveType = "SALE_ISSUE"
	StockMoveTypeSaleReturn      StockMoveType = "SALE_RETURN"
	StockMoveTypePurchaseReceipt StockMoveType = "PURCHASE_RECEIPT"
	StockMoveTypePurchaseReturn  StockMoveType = "PURCHASE_RETURN"
	StockMoveTypeTransferOut     StockMoveType = "TRANSFER_OUT"
	StockMoveTypeTransferIn      StockMoveType = "TRANSFER_IN"
	StockMoveTypeValueAdjustment StockMoveType = "VALUE_ADJUSTMENT"
)

func (e StockMoveType) IsValid() bool {
	switch e {
	case StockMoveTypeOpening, StockMoveTypeAdjustment, StockMoveTypeSaleIssue, StockMoveTypeSaleReturn,
		StockMoveTypePurchaseReceipt, StockMoveTypePurchaseReturn, StockMoveTypeTransferOut,
		StockMoveTypeTransferIn, StockMoveTypeValueAdjustment:
		return true
	}
	return false
}

func (e StockMoveType) String() string {
	return string(e)
}

type MoveDirection string

const (
	MoveDirectionIn  MoveDirection = "IN"
	MoveDirectionOut MoveDirection = "OUT"
)

func (e MoveDirection) IsValid() bool {
	return e == MoveDirectionIn || e == MoveDirectionOut
}

// DirectionForMoveType returns the direction implied by the move type, when
// the type is unambiguous. ADJUSTMENT can go either way; the caller supplies it.
func DirectionForMoveType(t StockMoveType) (MoveDirection, bool) {
	switch t {
	case StockMoveTypeOpening, StockMoveTypeSaleReturn, StockMoveTypePurchaseReceipt,
		StockMoveTypeTransferIn, StockMoveTypeValueAdjustment:
		return MoveDirectionIn, true
	case StockMoveTypeSaleIssue, StockMoveTypePurchaseReturn, StockMoveTypeTransferOut:
		return MoveDirectionOut, true
	}
	return "", false
}

// LedgerReferenceType tags journal entries and outbox records with the kind
// of business document that produced them.
type LedgerReferenceType string

const (
	LedgerReferenceTypeManualJournal       LedgerReferenceType = "JRN"
	LedgerReferenceTypeInvoice             LedgerReferenceType = "IV"
	LedgerReferenceTypeBill                LedgerReferenceType = "BL"
	LedgerReferenceTypeCreditNote          LedgerReferenceType = "CN"
	LedgerReferenceTypeAdvance             LedgerReferenceType = "ADV"
	LedgerReferenceTypeStockMove           LedgerReferenceType = "STK"
	LedgerReferenceTypeValuationAdjustment LedgerReferenceType = "IVAV"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusSent       OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)

type OutboxAction string

const (
	OutboxActionCreate OutboxAction = "Create"
	OutboxActionVoid   OutboxAction = "Void"
)

package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// Account is referenced, never owned, by journal lines. Code/type edits on an
// account that posted entries already reference are not handled here.
type Account struct {
	ID            int           `gorm:"primary_key" json:"id"`
	CompanyId     string        `gorm:"type:char(36);index;not null" json:"company_id"`
	Code          string        `gorm:"size:50;not null" json:"code"`
	Name          string        `gorm:"size:255;not null" json:"name" binding:"required"`
	AccountType   AccountType   `gorm:"type:enum('ASSET','LIABILITY','EQUITY','INCOME','EXPENSE');not null" json:"account_type"`
	NormalBalance NormalBalance `gorm:"type:enum('DEBIT','CREDIT');not null" json:"normal_balance"`
	IsActive      *bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) GetId() int {
	return a.ID
}

type NewAccount struct {
	Code        string      `json:"code" validate:"required"`
	Name        string      `json:"name" validate:"required"`
	AccountType AccountType `json:"account_type" validate:"required"`
}

func CreateAccount(ctx context.Context, input *NewAccount) (*Account, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.AccountType.IsValid() {
		return nil, errors.New("invalid account type")
	}
	if err := utils.ValidateUnique[Account](ctx, companyId, "code", input.Code, 0); err != nil {
		return nil, err
	}

	account := Account{
		CompanyId:     companyId,
		Code:          input.Code,
		Name:          input.Name,
		AccountType:   input.AccountType,
		NormalBalance: NormalBalanceForType(input.AccountType),
		IsActive:      utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func GetAccount(ctx context.Context, id int) (*Account, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return utils.FetchModel[Account](ctx, companyId, id)
}

// validateAccountsBelongToCompany fails closed on any cross-tenant reference:
// every id must resolve within companyId or the whole posting is rejected.
func validateAccountsBelongToCompany(ctx context.Context, companyId string, accountIds []int) error {
	if len(accountIds) == 0 {
		return errors.New("no accounts referenced")
	}
	if err := utils.ValidateResourcesId[Account](ctx, companyId, accountIds); err != nil {
		return errors.New("account not found")
	}
	return nil
}

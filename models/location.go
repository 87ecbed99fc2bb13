package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

// Location is a stock-keeping site (warehouse, shop floor, consignment).
type Location struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"type:char(36);index;not null" json:"company_id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *Location) GetId() int {
	return l.ID
}

// Item is the minimal stock-tracked product referent. Full product CRUD
// (pricing, units, variants) lives outside this core.
type Item struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"type:char(36);index;not null" json:"company_id"`
	Sku       string    `gorm:"size:100;not null" json:"sku"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	IsTracked *bool     `gorm:"not null;default:true" json:"is_tracked"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Item) GetId() int {
	return i.ID
}

type NewLocation struct {
	Name string `json:"name" validate:"required"`
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	location := Location{
		CompanyId: companyId,
		Name:      input.Name,
		IsActive:  utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

type NewItem struct {
	Sku  string `json:"sku" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func CreateItem(ctx context.Context, input *NewItem) (*Item, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Item](ctx, companyId, "sku", input.Sku, 0); err != nil {
		return nil, err
	}

	item := Item{
		CompanyId: companyId,
		Sku:       input.Sku,
		Name:      input.Name,
		IsTracked: utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

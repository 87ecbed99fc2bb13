package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Company is the tenant root. Every ledger and inventory row hangs off one.
type Company struct {
	ID       uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name     string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Timezone string    `gorm:"size:64;default:'UTC'" json:"timezone"`
	// PeriodClosedThrough is the end date of the most recently closed accounting
	// period. Zero time means no period has ever been closed. Advancing it is a
	// one-way gate; see ClosePeriod.
	PeriodClosedThrough time.Time `json:"period_closed_through"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type NewCompany struct {
	Name     string `json:"name" validate:"required"`
	Timezone string `json:"timezone"`
}

func CreateCompany(ctx context.Context, input *NewCompany) (*Company, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Timezone == "" {
		input.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return nil, errors.New("invalid timezone")
	}

	company := Company{
		Name:     input.Name,
		Timezone: input.Timezone,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func GetCompanyById(ctx context.Context, companyId string) (*Company, error) {
	db := config.GetDB()
	var company Company
	if err := db.WithContext(ctx).Where("id = ?", companyId).First(&company).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &company, nil
}

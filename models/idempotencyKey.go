package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// IdempotencyRecord pins a client-supplied command key to the serialized
// result of its first successful execution. The row is written in the SAME
// transaction as the command's effects, so "recorded" and "applied" cannot
// diverge: a rollback erases both.
type IdempotencyRecord struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CompanyId     string    `gorm:"type:char(36);index:idx_idempotency_key,unique,priority:1;not null" json:"company_id"`
	Key           string    `gorm:"size:128;index:idx_idempotency_key,unique,priority:2;not null" json:"key"`
	Operation     string    `gorm:"size:60" json:"operation"`
	ResultJson    string    `gorm:"type:longtext" json:"result_json"`
	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func idempotencyCacheKey(companyId string, key string) string {
	return fmt.Sprintf("idem:%s:%s", companyId, key)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// RunIdempotent executes fn at most once per (company, key). A replayed call
// returns the stored first result without re-running fn. The second return
// value reports whether the result came from the store.
//
// Redis serves as a fast path only; the unique row is the source of truth, so
// a cold cache or degraded redis never risks a double execution.
func RunIdempotent[T any](ctx context.Context, key string, operation string, fn func(tx *gorm.DB) (*T, error)) (*T, bool, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok {
		return nil, false, errors.New("company id not found in context")
	}
	if key == "" {
		// No key means the caller opted out of idempotency.
		var result *T
		err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = fn(tx)
			return err
		})
		return result, false, err
	}

	cacheKey := idempotencyCacheKey(companyId, key)
	var cached T
	if found, _ := config.GetRedisObject(cacheKey, &cached); found {
		return &cached, true, nil
	}

	tx := config.GetDB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, false, tx.Error
	}

	var existing IdempotencyRecord
	err := tx.Where("company_id = ? AND `key` = ?", companyId, key).First(&existing).Error
	if err == nil {
		tx.Rollback()
		return decodeStoredResult[T](ctx, cacheKey, &existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return nil, false, err
	}

	result, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}

	resultJson, err := json.Marshal(result)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}
	record := IdempotencyRecord{
		CompanyId:     companyId,
		Key:           key,
		Operation:     operation,
		ResultJson:    string(resultJson),
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			// Lost the race: the concurrent first execution committed while we
			// were running. Return its stored result, discard ours.
			var winner IdempotencyRecord
			if err2 := config.GetDB().WithContext(ctx).
				Where("company_id = ? AND `key` = ?", companyId, key).
				First(&winner).Error; err2 == nil {
				return decodeStoredResult[T](ctx, cacheKey, &winner)
			}
		}
		return nil, false, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, false, err
	}
	_ = config.SetRedisObject(cacheKey, result, 24*time.Hour)
	return result, false, nil
}

func decodeStoredResult[T any](ctx context.Context, cacheKey string, record *IdempotencyRecord) (*T, bool, error) {
	var stored T
	if err := json.Unmarshal([]byte(record.ResultJson), &stored); err != nil {
		return nil, true, fmt.Errorf("stored idempotency result is unreadable: %w", err)
	}
	_ = config.SetRedisObject(cacheKey, &stored, 24*time.Hour)
	return &stored, true, nil
}

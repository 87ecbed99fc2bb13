package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// LedgerOutboxRecord is one transactional-outbox row: written inside the
// caller's transaction, published to Pub/Sub after commit by the dispatcher.
// Downstream consumers (reporting, search indexing) read the feed; the
// ledger itself never depends on it.
type LedgerOutboxRecord struct {
	ID            int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	CompanyId     string              `gorm:"type:char(36);not null;index" json:"company_id"`
	EffectiveDate time.Time           `gorm:"index;not null" json:"effective_date"`
	ReferenceId   int                 `json:"reference_id"`
	ReferenceType LedgerReferenceType `gorm:"size:20" json:"reference_type"`
	Action        OutboxAction        `gorm:"size:10" json:"action"`
	Payload       []byte              `gorm:"type:blob" json:"payload"`

	PublishStatus    OutboxPublishStatus `gorm:"size:20;not null;default:'PENDING';index;index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time          `json:"published_at"`
	PubSubMessageId  *string             `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time          `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time          `gorm:"index" json:"locked_at"`
	LockedBy         *string             `gorm:"size:100" json:"locked_by"`
	LastPublishError *string             `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishToLedgerFeed writes the outbox row in the caller's transaction and
// does NOT touch Pub/Sub; the dispatcher publishes after commit. A committed
// ledger write therefore always has its feed message durably queued, and a
// rolled-back one leaves no trace.
func PublishToLedgerFeed(ctx context.Context, tx *gorm.DB, companyId string, effectiveDate time.Time, refId int, refType LedgerReferenceType, obj interface{}, action OutboxAction) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	record := LedgerOutboxRecord{
		CompanyId:     companyId,
		EffectiveDate: effectiveDate,
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

// correlationIdFromContextOrNew prefers the caller-propagated id, then the
// active trace id, then a fresh uuid.
func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			return sc.TraceID().String()
		}
	}
	return uuid.NewString()
}

func ConvertToLedgerFeedMessage(record LedgerOutboxRecord) config.LedgerFeedMessage {
	return config.LedgerFeedMessage{
		ID:            record.ID,
		CompanyId:     record.CompanyId,
		EffectiveDate: record.EffectiveDate,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/pkg/enums"
)

// CommitRecord is the single financial mutation produced by a finished flow.
// IdempotencyKey is unique; a replayed commit returns the stored row.
type CommitRecord struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Kind           enums.FlowKind       `gorm:"column:kind;not null"`
	IdempotencyKey string               `gorm:"column:idempotency_key;not null;uniqueIndex:commit_records_idempotency_key_key"`
	RequestHash    string               `gorm:"column:request_hash;not null"`
	AmountCents    int64                `gorm:"column:amount_cents;not null"`
	EntityID       uuid.UUID            `gorm:"column:entity_id;type:uuid;not null"`
	CustomerID     *uuid.UUID           `gorm:"column:customer_id;type:uuid"`
	PaymentMethod  *enums.PaymentMethod `gorm:"column:payment_method"`
	RefundOfID     *uuid.UUID           `gorm:"column:refund_of_id;type:uuid"`
	OperatorID     string               `gorm:"column:operator_id;not null"`
	TerminalID     string               `gorm:"column:terminal_id"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (CommitRecord) TableName() string { return "commit_records" }

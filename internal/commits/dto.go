package commits

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/enums"
)

// CustomerInput is the new customer a registration commit creates.
type CustomerInput struct {
	Name  string
	Phone string
}

// CreateInput is one commit attempt as received from a terminal.
type CreateInput struct {
	Kind             enums.FlowKind
	IdempotencyKey   string
	AmountCents      int64
	ResolvedEntityID uuid.UUID
	Method           *enums.PaymentMethod
	Customer         *CustomerInput
	RefundOf         *uuid.UUID
	OperatorID       string
	TerminalID       string
}

// Result wraps the stored record. Replayed is true when the key had already
// been committed and the original record is returned unchanged.
type Result struct {
	Record   *models.CommitRecord
	Replayed bool
}

// CommitDTO is the wire shape of a commit record.
type CommitDTO struct {
	ID             string               `json:"id"`
	Kind           enums.FlowKind       `json:"kind"`
	IdempotencyKey string               `json:"idempotency_key"`
	AmountCents    int64                `json:"amount_cents"`
	Amount         string               `json:"amount"`
	EntityID       string               `json:"entity_id"`
	CustomerID     string               `json:"customer_id,omitempty"`
	PaymentMethod  *enums.PaymentMethod `json:"payment_method,omitempty"`
	RefundOf       string               `json:"refund_of,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	Replayed       bool                 `json:"replayed"`
}

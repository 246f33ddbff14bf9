package flow

import (
	"context"
	"time"

	"github.com/angelmondragon/posflow/pkg/enums"
)

// CommitGateway is the financial mutation boundary. Calling it again with the
// same idempotency key must return the original result.
type CommitGateway interface {
	Commit(ctx context.Context, kind enums.FlowKind, req CommitRequest) (CommitResult, error)
}

type CustomerDetails struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CommitRequest struct {
	AmountCents      int64               `json:"amount_cents"`
	ResolvedEntityID string              `json:"resolved_entity_id"`
	IdempotencyKey   string              `json:"idempotency_key"`
	Method           enums.PaymentMethod `json:"method,omitempty"`
	Customer         *CustomerDetails    `json:"customer,omitempty"`
	RefundOf         string              `json:"refund_of,omitempty"`
}

type CommitResult struct {
	ID             string         `json:"id"`
	Kind           enums.FlowKind `json:"kind"`
	IdempotencyKey string         `json:"idempotency_key"`
	AmountCents    int64          `json:"amount_cents"`
	EntityID       string         `json:"entity_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	// Replayed is set when the gateway answered with a record created by an
	// earlier call carrying the same key.
	Replayed bool `json:"replayed"`
}

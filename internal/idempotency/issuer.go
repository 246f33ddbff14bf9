// Package idempotency mints and persists the per-flow commit key.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/pkg/enums"
)

// KeyState is the slice of the flow state machine the issuer needs. The
// state owner must store the minted key only when none is present.
type KeyState interface {
	EnsureIdempotencyKey(ctx context.Context, kind enums.FlowKind, mint func() string) (string, error)
}

// Issuer hands out one stable key per flow instance. The key lives until the
// flow is reset, so retried commits reuse it.
type Issuer struct {
	state KeyState
	mint  func(kind enums.FlowKind) string
}

func NewIssuer(state KeyState) (*Issuer, error) {
	if state == nil {
		return nil, errors.New("flow state is required")
	}
	return &Issuer{state: state, mint: NewKey}, nil
}

// NewKey formats a fresh key as {flowKind}_{uuid}.
func NewKey(kind enums.FlowKind) string {
	return fmt.Sprintf("%s_%s", kind, uuid.NewString())
}

// EnsureKey returns the flow's existing key or mints and stores a new one.
func (i *Issuer) EnsureKey(ctx context.Context, kind enums.FlowKind) (string, error) {
	return i.state.EnsureIdempotencyKey(ctx, kind, func() string {
		return i.mint(kind)
	})
}

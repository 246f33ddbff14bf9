package flowstate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/posflow/pkg/enums"
)

// FlowData is the payload a wizard accumulates between steps. Amounts are
// integer cents.
type FlowData struct {
	EntityID       string              `json:"entity_id,omitempty"`
	EntityLabel    string              `json:"entity_label,omitempty"`
	CustomerName   string              `json:"customer_name,omitempty"`
	CustomerPhone  string              `json:"customer_phone,omitempty"`
	AmountCents    int64               `json:"amount_cents,omitempty"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method,omitempty"`
	RefundOfID     string              `json:"refund_of_id,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// Merge applies every non-zero field of patch on top of d. Zero values in the
// patch mean "not provided", so a merge can never remove a field.
func (d FlowData) Merge(patch FlowData) FlowData {
	out := d
	if patch.EntityID != "" {
		out.EntityID = patch.EntityID
	}
	if patch.EntityLabel != "" {
		out.EntityLabel = patch.EntityLabel
	}
	if patch.CustomerName != "" {
		out.CustomerName = patch.CustomerName
	}
	if patch.CustomerPhone != "" {
		out.CustomerPhone = patch.CustomerPhone
	}
	if patch.AmountCents != 0 {
		out.AmountCents = patch.AmountCents
	}
	if patch.PaymentMethod != "" {
		out.PaymentMethod = patch.PaymentMethod
	}
	if patch.RefundOfID != "" {
		out.RefundOfID = patch.RefundOfID
	}
	if patch.IdempotencyKey != "" {
		out.IdempotencyKey = patch.IdempotencyKey
	}
	return out
}

// IsZero reports whether nothing has been collected yet.
func (d FlowData) IsZero() bool {
	return d == FlowData{}
}

// Snapshot is the persisted unit for one flow kind: step completion and flow
// data always travel together.
type Snapshot struct {
	Kind      enums.FlowKind `json:"kind"`
	Steps     map[int]bool   `json:"steps"`
	Data      FlowData       `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewSnapshot returns the empty state for kind.
func NewSnapshot(kind enums.FlowKind) Snapshot {
	return Snapshot{Kind: kind, Steps: map[int]bool{}}
}

// IsStepComplete reports whether step has been finished.
func (s Snapshot) IsStepComplete(step int) bool {
	return s.Steps[step]
}

// FirstIncompleteBefore returns the lowest step j < step that is not complete.
func (s Snapshot) FirstIncompleteBefore(step int) (int, bool) {
	for j := 1; j < step; j++ {
		if !s.Steps[j] {
			return j, true
		}
	}
	return 0, false
}

// CompletedSteps counts finished steps.
func (s Snapshot) CompletedSteps() int {
	n := 0
	for _, done := range s.Steps {
		if done {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never share the steps map.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Steps = make(map[int]bool, len(s.Steps))
	for k, v := range s.Steps {
		out.Steps[k] = v
	}
	return out
}

func encodeSnapshot(s Snapshot) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode %s snapshot: %w", s.Kind, err)
	}
	return string(payload), nil
}

func decodeSnapshot(kind enums.FlowKind, payload string) (Snapshot, error) {
	snap := NewSnapshot(kind)
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s snapshot: %w", kind, err)
	}
	if snap.Steps == nil {
		snap.Steps = map[int]bool{}
	}
	snap.Kind = kind
	return snap, nil
}

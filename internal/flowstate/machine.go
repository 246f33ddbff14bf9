// Package flowstate is the step state machine shared by every wizard flow.
//
// It is a pure fact store: it records which ordinal steps are complete and the
// data collected so far, one snapshot per flow kind. Ordering rules live in
// the orchestrator's navigation guard, not here.
package flowstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

// Machine serialises read-modify-write cycles against a Store.
type Machine struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

func NewMachine(store Store) (*Machine, error) {
	if store == nil {
		return nil, errors.New("flow state store is required")
	}
	return &Machine{store: store, now: time.Now}, nil
}

// Snapshot returns the current state for kind, empty when nothing is stored.
func (m *Machine) Snapshot(ctx context.Context, kind enums.FlowKind) (Snapshot, error) {
	if err := validateKind(kind); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, kind)
}

// IsStepComplete reports whether step has been marked complete for kind.
func (m *Machine) IsStepComplete(ctx context.Context, kind enums.FlowKind, step int) (bool, error) {
	if err := validateStep(kind, step); err != nil {
		return false, err
	}
	snap, err := m.Snapshot(ctx, kind)
	if err != nil {
		return false, err
	}
	return snap.IsStepComplete(step), nil
}

// SetStepComplete marks step complete. Already complete steps are left alone
// and no write happens.
func (m *Machine) SetStepComplete(ctx context.Context, kind enums.FlowKind, step int) error {
	if err := validateStep(kind, step); err != nil {
		return err
	}
	_, err := m.update(ctx, kind, func(snap *Snapshot) (bool, error) {
		if snap.Steps[step] {
			return false, nil
		}
		snap.Steps[step] = true
		return true, nil
	})
	return err
}

// SetFlowData shallow-merges patch into the flow data for kind.
func (m *Machine) SetFlowData(ctx context.Context, kind enums.FlowKind, patch FlowData) (FlowData, error) {
	if err := validateKind(kind); err != nil {
		return FlowData{}, err
	}
	snap, err := m.update(ctx, kind, func(snap *Snapshot) (bool, error) {
		merged := snap.Data.Merge(patch)
		if merged == snap.Data {
			return false, nil
		}
		snap.Data = merged
		return true, nil
	})
	if err != nil {
		return FlowData{}, err
	}
	return snap.Data, nil
}

// CompleteStep merges patch and marks step complete in a single persisted
// write, so data and completion can never disagree after a crash.
func (m *Machine) CompleteStep(ctx context.Context, kind enums.FlowKind, step int, patch FlowData) (Snapshot, error) {
	if err := validateStep(kind, step); err != nil {
		return Snapshot{}, err
	}
	return m.update(ctx, kind, completeMutation(step, patch))
}

// CompleteStepFor is CompleteStep bound to one run of the flow. key is the
// idempotency key the flow held when the step was mounted; if the stored key
// differs the flow was reset in between and the write is refused with
// CodeFlowCancelled.
func (m *Machine) CompleteStepFor(ctx context.Context, kind enums.FlowKind, step int, key string, patch FlowData) (Snapshot, error) {
	if err := validateStep(kind, step); err != nil {
		return Snapshot{}, err
	}
	complete := completeMutation(step, patch)
	return m.update(ctx, kind, func(snap *Snapshot) (bool, error) {
		if snap.Data.IdempotencyKey != key {
			return false, pkgerrors.New(pkgerrors.CodeFlowCancelled, "flow was reset after the step was mounted").
				WithDetails(map[string]any{"step": step})
		}
		return complete(snap)
	})
}

func completeMutation(step int, patch FlowData) func(*Snapshot) (bool, error) {
	return func(snap *Snapshot) (bool, error) {
		merged := snap.Data.Merge(patch)
		if merged == snap.Data && snap.Steps[step] {
			return false, nil
		}
		snap.Data = merged
		snap.Steps[step] = true
		return true, nil
	}
}

// EnsureIdempotencyKey stores mint() as the flow's key unless one is already
// present, and returns whichever key is stored. mint is only called when the
// key is missing.
func (m *Machine) EnsureIdempotencyKey(ctx context.Context, kind enums.FlowKind, mint func() string) (string, error) {
	if err := validateKind(kind); err != nil {
		return "", err
	}
	if mint == nil {
		return "", errors.New("key generator is required")
	}
	snap, err := m.update(ctx, kind, func(snap *Snapshot) (bool, error) {
		if snap.Data.IdempotencyKey != "" {
			return false, nil
		}
		snap.Data.IdempotencyKey = mint()
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if snap.Data.IdempotencyKey == "" {
		return "", pkgerrors.New(pkgerrors.CodeFlowInvariant, "idempotency key generator returned an empty key")
	}
	return snap.Data.IdempotencyKey, nil
}

// Reset wipes step completion and flow data for kind in one delete.
func (m *Machine) Reset(ctx context.Context, kind enums.FlowKind) error {
	if err := validateKind(kind); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(ctx, kind); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset flow state")
	}
	return nil
}

func (m *Machine) update(ctx context.Context, kind enums.FlowKind, mutate func(*Snapshot) (bool, error)) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.load(ctx, kind)
	if err != nil {
		return Snapshot{}, err
	}
	changed, err := mutate(&snap)
	if err != nil {
		return Snapshot{}, err
	}
	if !changed {
		return snap.Clone(), nil
	}
	snap.UpdatedAt = m.now().UTC()
	if err := m.store.Save(ctx, snap); err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist flow state")
	}
	return snap.Clone(), nil
}

func (m *Machine) load(ctx context.Context, kind enums.FlowKind) (Snapshot, error) {
	snap, ok, err := m.store.Load(ctx, kind)
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load flow state")
	}
	if !ok {
		return NewSnapshot(kind), nil
	}
	if snap.Steps == nil {
		snap.Steps = map[int]bool{}
	}
	return snap, nil
}

func validateKind(kind enums.FlowKind) error {
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown flow kind %q", kind))
	}
	return nil
}

func validateStep(kind enums.FlowKind, step int) error {
	if err := validateKind(kind); err != nil {
		return err
	}
	if step < 1 || step > kind.StepCount() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("step %d out of range for %s", step, kind)).
			WithDetails(map[string]any{"step": step, "max": kind.StepCount()})
	}
	return nil
}

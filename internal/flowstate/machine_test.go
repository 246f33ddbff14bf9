package flowstate

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

func newTestMachine(t *testing.T, store Store) *Machine {
	t.Helper()
	m, err := NewMachine(store)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return m
}

func TestSetStepCompleteIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, NewMemoryStore())

	if err := m.SetStepComplete(ctx, enums.FlowKindSales, 1); err != nil {
		t.Fatalf("set step: %v", err)
	}

	ops := []func() error{
		func() error { return m.SetStepComplete(ctx, enums.FlowKindSales, 1) },
		func() error {
			_, err := m.SetFlowData(ctx, enums.FlowKindSales, FlowData{AmountCents: 100})
			return err
		},
		func() error { _, err := m.CompleteStep(ctx, enums.FlowKindSales, 2, FlowData{}); return err },
		func() error { return m.Reset(ctx, enums.FlowKindCheckout) },
		func() error {
			_, err := m.EnsureIdempotencyKey(ctx, enums.FlowKindSales, func() string { return "sales_x" })
			return err
		},
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		done, err := m.IsStepComplete(ctx, enums.FlowKindSales, 1)
		if err != nil {
			t.Fatalf("is complete: %v", err)
		}
		if !done {
			t.Fatalf("step 1 became incomplete after op %d", i)
		}
	}

	if err := m.Reset(ctx, enums.FlowKindSales); err != nil {
		t.Fatalf("reset: %v", err)
	}
	done, _ := m.IsStepComplete(ctx, enums.FlowKindSales, 1)
	if done {
		t.Fatalf("reset should clear step completion")
	}
}

func TestSetStepCompleteDoesNotEnforceOrdering(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, NewMemoryStore())

	if err := m.SetStepComplete(ctx, enums.FlowKindRefunds, 3); err != nil {
		t.Fatalf("set step 3: %v", err)
	}
	snap, err := m.Snapshot(ctx, enums.FlowKindRefunds)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsStepComplete(3) || snap.IsStepComplete(1) {
		t.Fatalf("unexpected steps %v", snap.Steps)
	}
}

func TestStepRangeValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, NewMemoryStore())

	tests := []struct {
		kind enums.FlowKind
		step int
	}{
		{enums.FlowKindSales, 0},
		{enums.FlowKindSales, 4},
		{enums.FlowKindRefunds, 5},
		{enums.FlowKind("layaway"), 1},
	}
	for _, tt := range tests {
		err := m.SetStepComplete(ctx, tt.kind, tt.step)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s/%d: expected validation error, got %v", tt.kind, tt.step, err)
		}
	}
	if err := m.SetStepComplete(ctx, enums.FlowKindRefunds, 4); err != nil {
		t.Fatalf("refunds has four steps: %v", err)
	}
}

func TestSetFlowDataMergesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, NewMemoryStore())

	if _, err := m.SetFlowData(ctx, enums.FlowKindCheckout, FlowData{EntityID: "cust-1", AmountCents: 500}); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	data, err := m.SetFlowData(ctx, enums.FlowKindCheckout, FlowData{AmountCents: 7550, PaymentMethod: enums.PaymentMethodCard})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if data.EntityID != "cust-1" {
		t.Fatalf("merge removed entity id: %+v", data)
	}
	if data.AmountCents != 7550 || data.PaymentMethod != enums.PaymentMethodCard {
		t.Fatalf("merge did not apply latest values: %+v", data)
	}

	other, err := m.Snapshot(ctx, enums.FlowKindSales)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !other.Data.IsZero() {
		t.Fatalf("flow kinds must not share data: %+v", other.Data)
	}
}

func TestCompleteStepWritesOnce(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	m := newTestMachine(t, store)

	snap, err := m.CompleteStep(ctx, enums.FlowKindSales, 2, FlowData{AmountCents: 7550})
	if err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("expected one combined write, got %d", store.saves)
	}
	if !snap.IsStepComplete(2) || snap.Data.AmountCents != 7550 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if _, err := m.CompleteStep(ctx, enums.FlowKindSales, 2, FlowData{AmountCents: 7550}); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("unchanged completion should not write, got %d saves", store.saves)
	}
}

func TestCompleteStepFailedWriteLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	m := newTestMachine(t, store)

	store.failSave = errors.New("disk full")
	_, err := m.CompleteStep(ctx, enums.FlowKindSales, 1, FlowData{EntityID: "cust-1"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	store.failSave = nil
	snap, err := m.Snapshot(ctx, enums.FlowKindSales)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.IsStepComplete(1) || snap.Data.EntityID != "" {
		t.Fatalf("failed write must not leave partial state: %+v", snap)
	}
}

func TestCompleteStepForRefusesResetFlow(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, NewMemoryStore())

	key, err := m.EnsureIdempotencyKey(ctx, enums.FlowKindSales, func() string { return "sales_first" })
	if err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	if _, err := m.CompleteStepFor(ctx, enums.FlowKindSales, 1, key, FlowData{EntityID: "cust-1"}); err != nil {
		t.Fatalf("complete for current run: %v", err)
	}

	if err := m.Reset(ctx, enums.FlowKindSales); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err = m.CompleteStepFor(ctx, enums.FlowKindSales, 2, key, FlowData{AmountCents: 100})
	if !pkgerrors.IsCode(err, pkgerrors.CodeFlowCancelled) {
		t.Fatalf("expected cancelled error after reset, got %v", err)
	}

	if _, err := m.EnsureIdempotencyKey(ctx, enums.FlowKindSales, func() string { return "sales_second" }); err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	_, err = m.CompleteStepFor(ctx, enums.FlowKindSales, 1, key, FlowData{EntityID: "cust-1"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeFlowCancelled) {
		t.Fatalf("a new run must not accept the old run's step, got %v", err)
	}

	snap, err := m.Snapshot(ctx, enums.FlowKindSales)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.CompletedSteps() != 0 || snap.Data.EntityID != "" || snap.Data.IdempotencyKey != "sales_second" {
		t.Fatalf("refused writes must leave the new run untouched: %+v", snap)
	}
}

// sharedStore hands out its own steps map, like a store that caches decoded
// snapshots.
type sharedStore struct {
	snap Snapshot
}

func (s *sharedStore) Load(_ context.Context, _ enums.FlowKind) (Snapshot, bool, error) {
	return s.snap, true, nil
}

func (s *sharedStore) Save(_ context.Context, snap Snapshot) error {
	s.snap = snap
	return nil
}

func (s *sharedStore) Delete(_ context.Context, _ enums.FlowKind) error {
	s.snap = NewSnapshot(s.snap.Kind)
	return nil
}

func TestUnchangedUpdateReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := &sharedStore{snap: Snapshot{
		Kind:  enums.FlowKindSales,
		Steps: map[int]bool{1: true},
		Data:  FlowData{EntityID: "cust-1"},
	}}
	m := newTestMachine(t, store)

	snap, err := m.CompleteStep(ctx, enums.FlowKindSales, 1, FlowData{EntityID: "cust-1"})
	if err != nil {
		t.Fatalf("complete step: %v", err)
	}
	snap.Steps[2] = true
	if store.snap.Steps[2] {
		t.Fatalf("returned snapshot shares the store's steps map")
	}
}

func TestEnsureIdempotencyKeyIsStable(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, NewMemoryStore())

	minted := 0
	mint := func() string {
		minted++
		return "sales_fixed"
	}
	for i := 0; i < 5; i++ {
		key, err := m.EnsureIdempotencyKey(ctx, enums.FlowKindSales, mint)
		if err != nil {
			t.Fatalf("ensure key: %v", err)
		}
		if key != "sales_fixed" {
			t.Fatalf("unexpected key %q", key)
		}
	}
	if minted != 1 {
		t.Fatalf("expected generator to run once, ran %d times", minted)
	}

	if _, err := m.EnsureIdempotencyKey(ctx, enums.FlowKindSales, func() string { return "" }); err != nil {
		t.Fatalf("existing key should short-circuit the generator: %v", err)
	}
}

func TestStatePersistsAcrossMachines(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := newTestMachine(t, store)
	if _, err := first.CompleteStep(ctx, enums.FlowKindRegistration, 1, FlowData{CustomerName: "Thandi", CustomerPhone: "0821234567"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reloaded := newTestMachine(t, store)
	snap, err := reloaded.Snapshot(ctx, enums.FlowKindRegistration)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsStepComplete(1) || snap.Data.CustomerName != "Thandi" {
		t.Fatalf("state did not survive reload: %+v", snap)
	}
}

func TestSnapshotFirstIncompleteBefore(t *testing.T) {
	snap := NewSnapshot(enums.FlowKindRefunds)
	snap.Steps[1] = true
	snap.Steps[3] = true

	if j, ok := snap.FirstIncompleteBefore(4); !ok || j != 2 {
		t.Fatalf("expected step 2, got %d %v", j, ok)
	}
	if _, ok := snap.FirstIncompleteBefore(2); ok {
		t.Fatalf("step 1 is complete so step 2 is reachable")
	}
	if _, ok := snap.FirstIncompleteBefore(1); ok {
		t.Fatalf("step 1 has no prerequisites")
	}
}

type countingStore struct {
	*MemoryStore
	saves    int
	failSave error
}

func (c *countingStore) Save(ctx context.Context, snap Snapshot) error {
	if c.failSave != nil {
		return c.failSave
	}
	c.saves++
	return c.MemoryStore.Save(ctx, snap)
}

package idempotency

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/pkg/enums"
)

func newIssuer(t *testing.T) (*Issuer, *flowstate.Machine) {
	t.Helper()
	machine, err := flowstate.NewMachine(flowstate.NewMemoryStore())
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	issuer, err := NewIssuer(machine)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	return issuer, machine
}

func TestNewKeyFormat(t *testing.T) {
	key := NewKey(enums.FlowKindRefunds)
	prefix := "refunds_"
	if !strings.HasPrefix(key, prefix) {
		t.Fatalf("expected %q prefix, got %q", prefix, key)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(key, prefix)); err != nil {
		t.Fatalf("suffix is not a uuid: %v", err)
	}
	if NewKey(enums.FlowKindRefunds) == key {
		t.Fatalf("keys must be unique")
	}
}

func TestEnsureKeyIsStableUntilReset(t *testing.T) {
	ctx := context.Background()
	issuer, machine := newIssuer(t)

	first, err := issuer.EnsureKey(ctx, enums.FlowKindSales)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := issuer.EnsureKey(ctx, enums.FlowKindSales)
		if err != nil {
			t.Fatalf("ensure again: %v", err)
		}
		if again != first {
			t.Fatalf("key changed without reset: %q -> %q", first, again)
		}
	}

	if err := machine.Reset(ctx, enums.FlowKindSales); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fresh, err := issuer.EnsureKey(ctx, enums.FlowKindSales)
	if err != nil {
		t.Fatalf("ensure after reset: %v", err)
	}
	if fresh == first {
		t.Fatalf("reset must yield a new key")
	}
}

func TestEnsureKeyIsPerFlowKind(t *testing.T) {
	ctx := context.Background()
	issuer, _ := newIssuer(t)

	sales, err := issuer.EnsureKey(ctx, enums.FlowKindSales)
	if err != nil {
		t.Fatalf("sales: %v", err)
	}
	checkout, err := issuer.EnsureKey(ctx, enums.FlowKindCheckout)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if sales == checkout {
		t.Fatalf("flows must not share a key")
	}
	if !strings.HasPrefix(checkout, "checkout_") {
		t.Fatalf("unexpected checkout key %q", checkout)
	}
}

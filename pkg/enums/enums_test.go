package enums

import "testing"

func TestFlowKindStepCount(t *testing.T) {
	tests := []struct {
		kind FlowKind
		want int
	}{
		{FlowKindSales, 3},
		{FlowKindRegistration, 3},
		{FlowKindCheckout, 3},
		{FlowKindRefunds, 4},
		{FlowKind("layaway"), 0},
	}
	for _, tt := range tests {
		if got := tt.kind.StepCount(); got != tt.want {
			t.Fatalf("%s: expected %d steps got %d", tt.kind, tt.want, got)
		}
	}
}

func TestFlowKindOwnerRequirement(t *testing.T) {
	if FlowKindRegistration.RequiresOwner() {
		t.Fatalf("registration must accept unowned codes only")
	}
	for _, kind := range []FlowKind{FlowKindSales, FlowKindCheckout, FlowKindRefunds} {
		if !kind.RequiresOwner() {
			t.Fatalf("%s should require an owner", kind)
		}
	}
}

func TestParseFlowKind(t *testing.T) {
	kind, err := ParseFlowKind("refunds")
	if err != nil || kind != FlowKindRefunds {
		t.Fatalf("unexpected parse result %q %v", kind, err)
	}
	if _, err := ParseFlowKind("Refunds"); err == nil {
		t.Fatalf("parsing is case sensitive")
	}
}

func TestOperatorRoleCanCommit(t *testing.T) {
	if OperatorRoleCashier.CanCommit(FlowKindRefunds) {
		t.Fatalf("cashier must not commit refunds")
	}
	if !OperatorRoleSupervisor.CanCommit(FlowKindRefunds) {
		t.Fatalf("supervisor may commit refunds")
	}
	if !OperatorRoleCashier.CanCommit(FlowKindSales) {
		t.Fatalf("cashier may commit sales")
	}
	if OperatorRole("guest").CanCommit(FlowKindSales) {
		t.Fatalf("unknown role must not commit")
	}
}

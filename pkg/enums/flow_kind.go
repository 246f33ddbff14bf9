package enums

import "fmt"

// FlowKind identifies one of the wizard flows a terminal can run.
type FlowKind string

const (
	FlowKindSales        FlowKind = "sales"
	FlowKindRegistration FlowKind = "registration"
	FlowKindCheckout     FlowKind = "checkout"
	FlowKindRefunds      FlowKind = "refunds"
)

var validFlowKinds = []FlowKind{
	FlowKindSales,
	FlowKindRegistration,
	FlowKindCheckout,
	FlowKindRefunds,
}

// FlowKinds returns every known kind in a stable order.
func FlowKinds() []FlowKind {
	out := make([]FlowKind, len(validFlowKinds))
	copy(out, validFlowKinds)
	return out
}

// String implements fmt.Stringer.
func (k FlowKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known FlowKind.
func (k FlowKind) IsValid() bool {
	for _, candidate := range validFlowKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// StepCount returns the number of ordinal steps in the flow, or 0 for unknown kinds.
func (k FlowKind) StepCount() int {
	switch k {
	case FlowKindSales, FlowKindRegistration, FlowKindCheckout:
		return 3
	case FlowKindRefunds:
		return 4
	}
	return 0
}

// RequiresOwner reports whether a scanned entity must already belong to a
// customer for this flow. Registration is the only flow that wants a free code.
func (k FlowKind) RequiresOwner() bool {
	return k != FlowKindRegistration
}

// ParseFlowKind converts raw input into a FlowKind.
func ParseFlowKind(value string) (FlowKind, error) {
	for _, candidate := range validFlowKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid flow kind %q", value)
}

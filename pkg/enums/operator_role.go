package enums

import "fmt"

// OperatorRole scopes what a terminal operator may commit.
type OperatorRole string

const (
	OperatorRoleCashier    OperatorRole = "cashier"
	OperatorRoleSupervisor OperatorRole = "supervisor"
)

var validOperatorRoles = []OperatorRole{
	OperatorRoleCashier,
	OperatorRoleSupervisor,
}

// String implements fmt.Stringer.
func (r OperatorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known OperatorRole.
func (r OperatorRole) IsValid() bool {
	for _, candidate := range validOperatorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanCommit reports whether the role may perform the flow's final mutation.
// Refunds are supervisor-only.
func (r OperatorRole) CanCommit(kind FlowKind) bool {
	if !r.IsValid() || !kind.IsValid() {
		return false
	}
	if kind == FlowKindRefunds {
		return r == OperatorRoleSupervisor
	}
	return true
}

// ParseOperatorRole converts raw input into an OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	for _, candidate := range validOperatorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operator role %q", value)
}

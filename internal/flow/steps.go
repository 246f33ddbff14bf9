package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

// StepName is the screen shown for an ordinal step.
type StepName string

const (
	StepCustomer    StepName = "customer"
	StepDetails     StepName = "details"
	StepCode        StepName = "code"
	StepAmount      StepName = "amount"
	StepPayment     StepName = "payment"
	StepTransaction StepName = "transaction"
	StepConfirm     StepName = "confirm"
)

var definitions = map[enums.FlowKind][]StepName{
	enums.FlowKindSales:        {StepCustomer, StepAmount, StepConfirm},
	enums.FlowKindRegistration: {StepDetails, StepCode, StepConfirm},
	enums.FlowKindCheckout:     {StepCustomer, StepPayment, StepConfirm},
	enums.FlowKindRefunds:      {StepCustomer, StepTransaction, StepAmount, StepConfirm},
}

// Steps returns the ordered step names for kind.
func Steps(kind enums.FlowKind) []StepName {
	steps := definitions[kind]
	out := make([]StepName, len(steps))
	copy(out, steps)
	return out
}

// NameOf returns the step name for an ordinal, or "" when out of range.
func NameOf(kind enums.FlowKind, step int) StepName {
	steps := definitions[kind]
	if step < 1 || step > len(steps) {
		return ""
	}
	return steps[step-1]
}

// CommitStep is the last ordinal, the one that calls the commit gateway.
func CommitStep(kind enums.FlowKind) int {
	return kind.StepCount()
}

// ResolveStep is the ordinal that scans or types the entity code.
func ResolveStep(kind enums.FlowKind) int {
	for i, name := range definitions[kind] {
		if name == StepCustomer || name == StepCode {
			return i + 1
		}
	}
	return 0
}

func EntryRoute(kind enums.FlowKind) string {
	return "/" + kind.String()
}

func StepRoute(kind enums.FlowKind, step int) string {
	if step == 0 {
		return EntryRoute(kind)
	}
	return fmt.Sprintf("/%s/step%d", kind, step)
}

// ParseRoute accepts "/{kind}" (step 0) or "/{kind}/step{K}".
func ParseRoute(route string) (enums.FlowKind, int, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(route), "/"), "/")
	if len(parts) == 0 || len(parts) > 2 {
		return "", 0, invalidRoute(route)
	}
	kind, err := enums.ParseFlowKind(parts[0])
	if err != nil {
		return "", 0, invalidRoute(route)
	}
	if len(parts) == 1 {
		return kind, 0, nil
	}
	raw, ok := strings.CutPrefix(parts[1], "step")
	if !ok {
		return "", 0, invalidRoute(route)
	}
	step, err := strconv.Atoi(raw)
	if err != nil || step < 1 || step > kind.StepCount() {
		return "", 0, invalidRoute(route)
	}
	return kind, step, nil
}

func invalidRoute(route string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "unknown flow route").
		WithDetails(map[string]any{"route": route})
}

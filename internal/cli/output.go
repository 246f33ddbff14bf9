package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/angelmondragon/posflow/internal/flow"
	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/internal/resolver"
	"github.com/angelmondragon/posflow/pkg/money"
)

type navigationOutput struct {
	Kind       string             `json:"kind"`
	Step       int                `json:"step"`
	Name       string             `json:"name"`
	Route      string             `json:"route"`
	Redirected bool               `json:"redirected"`
	Done       bool               `json:"done"`
	Data       flowstate.FlowData `json:"data"`
	Result     *flow.CommitResult `json:"result,omitempty"`
}

type statusOutput struct {
	Kind      string             `json:"kind"`
	Completed []int              `json:"completed_steps"`
	Next      string             `json:"next_route"`
	Data      flowstate.FlowData `json:"data"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNavigation(w io.Writer, format string, nav flow.Navigation) error {
	out := navigationOutput{
		Kind:       nav.Kind.String(),
		Step:       nav.Step,
		Name:       string(nav.Name),
		Route:      nav.Route,
		Redirected: nav.Redirected,
		Done:       nav.Done,
		Data:       nav.Data,
		Result:     nav.Result,
	}
	if format == "json" {
		return writeJSON(w, out)
	}

	if nav.Result != nil {
		printResult(w, *nav.Result)
	}
	if nav.Redirected {
		fmt.Fprintf(w, "redirected: earlier steps are incomplete\n")
	}
	if nav.Done {
		fmt.Fprintf(w, "%s complete, back to %s\n", nav.Kind, nav.Route)
		return nil
	}
	fmt.Fprintf(w, "%s step %d (%s) at %s\n", nav.Kind, nav.Step, nav.Name, nav.Route)
	printData(w, nav.Data)
	return nil
}

func printStatus(w io.Writer, format string, snap flowstate.Snapshot) error {
	next := flow.StepRoute(snap.Kind, flow.CommitStep(snap.Kind))
	if j, blocked := snap.FirstIncompleteBefore(flow.CommitStep(snap.Kind)); blocked {
		next = flow.StepRoute(snap.Kind, j)
	}

	completed := make([]int, 0, len(snap.Steps))
	for step, done := range snap.Steps {
		if done {
			completed = append(completed, step)
		}
	}
	sort.Ints(completed)

	if format == "json" {
		return writeJSON(w, statusOutput{Kind: snap.Kind.String(), Completed: completed, Next: next, Data: snap.Data})
	}

	steps := flow.Steps(snap.Kind)
	marks := make([]string, 0, len(steps))
	for i, name := range steps {
		mark := " "
		if snap.IsStepComplete(i + 1) {
			mark = "x"
		}
		marks = append(marks, fmt.Sprintf("[%s] %d %s", mark, i+1, name))
	}
	fmt.Fprintf(w, "%s\n  %s\n", snap.Kind, strings.Join(marks, "\n  "))
	fmt.Fprintf(w, "next: %s\n", next)
	printData(w, snap.Data)
	return nil
}

func printData(w io.Writer, d flowstate.FlowData) {
	if d.EntityID != "" {
		fmt.Fprintf(w, "  card:     %s (%s)\n", d.EntityLabel, d.EntityID)
	}
	if d.CustomerName != "" {
		fmt.Fprintf(w, "  customer: %s %s\n", d.CustomerName, d.CustomerPhone)
	}
	if d.AmountCents != 0 {
		fmt.Fprintf(w, "  amount:   %s\n", money.FormatCents(d.AmountCents))
	}
	if d.PaymentMethod != "" {
		fmt.Fprintf(w, "  method:   %s\n", d.PaymentMethod)
	}
	if d.RefundOfID != "" {
		fmt.Fprintf(w, "  refunds:  %s\n", d.RefundOfID)
	}
	if d.IdempotencyKey != "" {
		fmt.Fprintf(w, "  key:      %s\n", d.IdempotencyKey)
	}
}

func printResult(w io.Writer, r flow.CommitResult) {
	state := "committed"
	if r.Replayed {
		state = "already committed"
	}
	fmt.Fprintf(w, "%s %s %s (%s)\n", r.Kind, state, money.FormatCents(r.AmountCents), r.ID)
	if r.CustomerID != "" {
		fmt.Fprintf(w, "  customer: %s\n", r.CustomerID)
	}
}

func printEntity(w io.Writer, format string, e resolver.Entity) error {
	if format == "json" {
		return writeJSON(w, e)
	}
	owner := "unassigned"
	if e.HasOwner() {
		owner = "owner " + e.CustomerID
	}
	fmt.Fprintf(w, "%s %s %s\n", e.Label, e.ID, owner)
	return nil
}

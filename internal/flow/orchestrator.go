// Package flow drives the wizard flows: it guards navigation on step
// completion, advances steps, and performs the final commit.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/posflow/internal/capture"
	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/internal/resolver"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
)

type stateMachine interface {
	Snapshot(ctx context.Context, kind enums.FlowKind) (flowstate.Snapshot, error)
	CompleteStepFor(ctx context.Context, kind enums.FlowKind, step int, key string, patch flowstate.FlowData) (flowstate.Snapshot, error)
	Reset(ctx context.Context, kind enums.FlowKind) error
}

type keyIssuer interface {
	EnsureKey(ctx context.Context, kind enums.FlowKind) (string, error)
}

// Navigation tells the caller which screen to show next. Step 0 is the flow's
// entry screen. Data is the accumulated flow data as of this navigation.
type Navigation struct {
	Kind       enums.FlowKind
	Step       int
	Name       StepName
	Route      string
	Redirected bool
	Data       flowstate.FlowData
	Done       bool
	Result     *CommitResult
}

type Orchestrator struct {
	state    stateMachine
	issuer   keyIssuer
	resolver *resolver.Resolver
	gateway  CommitGateway
	logg     *logger.Logger
	metrics  *metrics.FlowMetrics
	now      func() time.Time

	mu       sync.Mutex
	inflight map[enums.FlowKind]bool
	epochs   map[enums.FlowKind]uint64
	captures map[enums.FlowKind]*capture.Session
	inputs   map[enums.FlowKind]map[*resolver.Session]struct{}
}

// run pins a step to the flow instance it was mounted in. A reset clears the
// stored key and a cancel in this process bumps the epoch; either one means
// the step belongs to an abandoned flow.
type run struct {
	key   string
	epoch uint64
}

type Option func(*Orchestrator)

func WithLogger(logg *logger.Logger) Option {
	return func(o *Orchestrator) {
		if logg != nil {
			o.logg = logg
		}
	}
}

func WithMetrics(m *metrics.FlowMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the state machine, key issuer, resolver and commit
// gateway together.
func NewOrchestrator(state stateMachine, issuer keyIssuer, res *resolver.Resolver, gateway CommitGateway, opts ...Option) (*Orchestrator, error) {
	if state == nil {
		return nil, fmt.Errorf("flow state required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("idempotency issuer required")
	}
	if res == nil {
		return nil, fmt.Errorf("entity resolver required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("commit gateway required")
	}
	o := &Orchestrator{
		state:    state,
		issuer:   issuer,
		resolver: res,
		gateway:  gateway,
		logg:     logger.Nop(),
		now:      time.Now,
		inflight: map[enums.FlowKind]bool{},
		epochs:   map[enums.FlowKind]uint64{},
		captures: map[enums.FlowKind]*capture.Session{},
		inputs:   map[enums.FlowKind]map[*resolver.Session]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Enter mounts step for kind. When an earlier step is incomplete the caller
// is redirected to the lowest incomplete one instead. Step 0 is the entry
// screen and never redirects.
func (o *Orchestrator) Enter(ctx context.Context, kind enums.FlowKind, step int) (Navigation, error) {
	if step == 0 {
		if !kind.IsValid() {
			return Navigation{}, unknownKind(kind)
		}
		snap, err := o.state.Snapshot(ctx, kind)
		if err != nil {
			return Navigation{}, err
		}
		return o.navigation(kind, 0, snap.Data), nil
	}
	if err := checkStep(kind, step); err != nil {
		return Navigation{}, err
	}

	snap, err := o.state.Snapshot(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	target := step
	if j, blocked := snap.FirstIncompleteBefore(step); blocked {
		target = j
	}

	// Every step mount makes sure the flow owns a key; the first mount mints it.
	key, err := o.issuer.EnsureKey(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	data := snap.Data
	data.IdempotencyKey = key

	nav := o.navigation(kind, target, data)
	nav.Redirected = target != step
	if nav.Redirected {
		o.logg.Info(o.fields(ctx, kind, map[string]any{"requested_step": step, "step": target}), "flow.redirect")
	}
	return nav, nil
}

// Resume mounts the lowest incomplete step, or the commit step when every
// earlier step is done.
func (o *Orchestrator) Resume(ctx context.Context, kind enums.FlowKind) (Navigation, error) {
	if !kind.IsValid() {
		return Navigation{}, unknownKind(kind)
	}
	return o.Enter(ctx, kind, CommitStep(kind))
}

// Status returns the persisted state for kind without mounting anything.
func (o *Orchestrator) Status(ctx context.Context, kind enums.FlowKind) (flowstate.Snapshot, error) {
	if !kind.IsValid() {
		return flowstate.Snapshot{}, unknownKind(kind)
	}
	return o.state.Snapshot(ctx, kind)
}

// Complete validates step's fields against the merged flow data, records the
// data and the completion in one write, and navigates to the next step.
func (o *Orchestrator) Complete(ctx context.Context, kind enums.FlowKind, step int, patch flowstate.FlowData) (Navigation, error) {
	if err := checkStep(kind, step); err != nil {
		return Navigation{}, err
	}
	r, err := o.mount(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	return o.complete(ctx, kind, step, patch, r)
}

func (o *Orchestrator) complete(ctx context.Context, kind enums.FlowKind, step int, patch flowstate.FlowData, r run) (Navigation, error) {
	snap, err := o.state.Snapshot(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	if o.cancelledSince(kind, r.epoch) || snap.Data.IdempotencyKey != r.key {
		o.logg.Warn(o.fields(ctx, kind, map[string]any{"step": step}), "flow.step.discarded")
		return Navigation{}, pkgerrors.New(pkgerrors.CodeFlowCancelled, "flow was cancelled before the step completed")
	}
	if j, blocked := snap.FirstIncompleteBefore(step); blocked {
		return Navigation{}, stepLocked(kind, step, j)
	}
	if patch.IdempotencyKey != "" && patch.IdempotencyKey != snap.Data.IdempotencyKey {
		err := pkgerrors.New(pkgerrors.CodeFlowInvariant, "a step tried to replace the flow's idempotency key")
		o.logg.Error(o.fields(ctx, kind, map[string]any{"step": step}), "flow.key_overwrite", err)
		return Navigation{}, err
	}
	if err := validateStepData(NameOf(kind, step), snap.Data.Merge(patch)); err != nil {
		return Navigation{}, err
	}

	updated, err := o.state.CompleteStepFor(ctx, kind, step, r.key, patch)
	if err != nil {
		return Navigation{}, err
	}
	o.logg.Info(o.fields(ctx, kind, map[string]any{"step": step}), "flow.advance")
	return o.navigation(kind, step+1, updated.Data), nil
}

// ResolveEntity validates code for the flow's entity step and completes the
// step with the resolved entity. An unknown code leaves the state untouched.
func (o *Orchestrator) ResolveEntity(ctx context.Context, kind enums.FlowKind, step int, code string) (Navigation, error) {
	if err := o.checkResolveStep(kind, step); err != nil {
		return Navigation{}, err
	}
	r, err := o.mount(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	return o.resolve(ctx, kind, step, code, r)
}

func (o *Orchestrator) resolve(ctx context.Context, kind enums.FlowKind, step int, code string, r run) (Navigation, error) {
	entity, err := o.resolver.Resolve(ctx, kind, code)
	if err != nil {
		return Navigation{}, err
	}
	return o.complete(ctx, kind, step, entityPatch(entity), r)
}

// ScanEntity captures one code from cam and resolves it. The capture is
// torn down if the flow is cancelled while waiting.
func (o *Orchestrator) ScanEntity(ctx context.Context, kind enums.FlowKind, step int, cam *capture.Session) (Navigation, error) {
	if err := o.checkResolveStep(kind, step); err != nil {
		return Navigation{}, err
	}
	if cam == nil {
		return Navigation{}, pkgerrors.New(pkgerrors.CodeCameraUnavailable, "no camera attached")
	}
	r, err := o.mount(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	o.mu.Lock()
	o.captures[kind] = cam
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.captures[kind] == cam {
			delete(o.captures, kind)
		}
		o.mu.Unlock()
	}()

	code, err := cam.Capture(ctx)
	if err != nil {
		return Navigation{}, err
	}
	return o.resolve(ctx, kind, step, code, r)
}

// OpenEntityInput returns a resolver session for continuous input on the
// entity step. The first valid code completes the step exactly once and the
// resulting navigation is handed to onAdvance. The session is bound to the
// flow as it is now: after a cancel it is closed and a late result cannot
// advance the next flow.
func (o *Orchestrator) OpenEntityInput(ctx context.Context, kind enums.FlowKind, step int, onAdvance func(Navigation, error)) (*resolver.Session, error) {
	if err := o.checkResolveStep(kind, step); err != nil {
		return nil, err
	}
	r, err := o.mount(ctx, kind)
	if err != nil {
		return nil, err
	}
	var session *resolver.Session
	session = o.resolver.NewSession(kind, func(ctx context.Context, entity resolver.Entity) {
		nav, err := o.complete(ctx, kind, step, entityPatch(entity), r)
		if err == nil {
			o.dropInput(kind, session)
		}
		if onAdvance != nil {
			onAdvance(nav, err)
		}
	})

	o.mu.Lock()
	if o.inputs[kind] == nil {
		o.inputs[kind] = map[*resolver.Session]struct{}{}
	}
	o.inputs[kind][session] = struct{}{}
	o.mu.Unlock()
	return session, nil
}

// Cancel abandons the flow: attached captures and code inputs are torn down,
// the state is reset, and an in-flight commit's result will be discarded.
func (o *Orchestrator) Cancel(ctx context.Context, kind enums.FlowKind) (Navigation, error) {
	if !kind.IsValid() {
		return Navigation{}, unknownKind(kind)
	}
	o.mu.Lock()
	o.epochs[kind]++
	cam := o.captures[kind]
	delete(o.captures, kind)
	inputs := o.inputs[kind]
	delete(o.inputs, kind)
	o.mu.Unlock()

	if cam != nil {
		cam.Close(ctx)
	}
	for session := range inputs {
		session.Close()
	}
	if err := o.state.Reset(ctx, kind); err != nil {
		return Navigation{}, err
	}
	o.metrics.IncReset(kind.String(), "cancel")
	o.logg.Info(o.fields(ctx, kind, nil), "flow.cancelled")
	return o.navigation(kind, 0, flowstate.FlowData{}), nil
}

// mount records which run of the flow a step belongs to.
func (o *Orchestrator) mount(ctx context.Context, kind enums.FlowKind) (run, error) {
	o.mu.Lock()
	epoch := o.epochs[kind]
	o.mu.Unlock()
	snap, err := o.state.Snapshot(ctx, kind)
	if err != nil {
		return run{}, err
	}
	return run{key: snap.Data.IdempotencyKey, epoch: epoch}, nil
}

func (o *Orchestrator) dropInput(kind enums.FlowKind, session *resolver.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inputs[kind], session)
}

func (o *Orchestrator) checkResolveStep(kind enums.FlowKind, step int) error {
	if err := checkStep(kind, step); err != nil {
		return err
	}
	if step != ResolveStep(kind) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("step %d of %s does not take a code", step, kind))
	}
	return nil
}

func (o *Orchestrator) navigation(kind enums.FlowKind, step int, data flowstate.FlowData) Navigation {
	return Navigation{
		Kind:  kind,
		Step:  step,
		Name:  NameOf(kind, step),
		Route: StepRoute(kind, step),
		Data:  data,
	}
}

func (o *Orchestrator) fields(ctx context.Context, kind enums.FlowKind, extra map[string]any) context.Context {
	ctx = o.logg.WithFlowKind(ctx, kind.String())
	if len(extra) == 0 {
		return ctx
	}
	return o.logg.WithFields(ctx, extra)
}

func entityPatch(entity resolver.Entity) flowstate.FlowData {
	return flowstate.FlowData{EntityID: entity.ID, EntityLabel: entity.Label}
}

func checkStep(kind enums.FlowKind, step int) error {
	if !kind.IsValid() {
		return unknownKind(kind)
	}
	if step < 1 || step > kind.StepCount() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("step %d out of range for %s", step, kind)).
			WithDetails(map[string]any{"step": step, "max": kind.StepCount()})
	}
	return nil
}

func unknownKind(kind enums.FlowKind) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown flow kind %q", kind))
}

func stepLocked(kind enums.FlowKind, step, missing int) error {
	return pkgerrors.New(pkgerrors.CodeStepLocked, fmt.Sprintf("step %d of %s requires step %d", step, kind, missing)).
		WithDetails(map[string]any{"step": step, "missing_step": missing, "route": StepRoute(kind, missing)})
}

var errNoKey = errors.New("flow has no idempotency key")

package flow

import (
	"context"

	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/metrics"
)

// Commit sends the flow to the commit gateway with the flow's carried key.
//
// Only one commit per kind may be in flight; a second call fails with
// CodeCommitInFlight. A gateway failure leaves the flow untouched so the
// retry reuses the same key. On success the flow is reset before Commit
// returns. If the flow was cancelled while the call was in flight the result
// is discarded and CodeFlowCancelled is returned.
func (o *Orchestrator) Commit(ctx context.Context, kind enums.FlowKind) (Navigation, error) {
	if !kind.IsValid() {
		return Navigation{}, unknownKind(kind)
	}
	epoch, ok := o.beginCommit(kind)
	if !ok {
		return Navigation{}, pkgerrors.New(pkgerrors.CodeCommitInFlight, "commit already in flight")
	}
	defer o.endCommit(kind)

	logCtx := o.fields(ctx, kind, nil)
	snap, err := o.state.Snapshot(ctx, kind)
	if err != nil {
		return Navigation{}, err
	}
	commitStep := CommitStep(kind)
	if j, blocked := snap.FirstIncompleteBefore(commitStep); blocked {
		return Navigation{}, stepLocked(kind, commitStep, j)
	}
	key := snap.Data.IdempotencyKey
	if key == "" {
		err := pkgerrors.Wrap(pkgerrors.CodeFlowInvariant, errNoKey, "commit step reached without an idempotency key")
		o.logg.Error(logCtx, "flow.commit.missing_key", err)
		return Navigation{}, err
	}
	logCtx = o.logg.WithField(logCtx, "idempotency_key", key)

	req := buildCommitRequest(kind, snap.Data)
	started := o.now()
	result, err := o.gateway.Commit(ctx, kind, req)
	elapsed := o.now().Sub(started)
	if err != nil {
		o.metrics.ObserveCommit(kind.String(), metrics.OutcomeFailure, elapsed)
		o.logg.Warn(o.logg.WithField(logCtx, "error", err.Error()), "flow.commit.failed")
		details := map[string]any{"idempotency_key": key}
		if upstream := pkgerrors.As(err); upstream != nil {
			details["upstream_code"] = string(upstream.Code())
		}
		return Navigation{}, pkgerrors.Wrap(pkgerrors.CodeCommitFailed, err, "commit failed").WithDetails(details)
	}

	if o.cancelledSince(kind, epoch) {
		o.metrics.ObserveCommit(kind.String(), metrics.OutcomeCancelled, elapsed)
		o.logg.Warn(o.logg.WithField(logCtx, "commit_id", result.ID), "flow.commit.discarded")
		return Navigation{}, pkgerrors.New(pkgerrors.CodeFlowCancelled, "flow was cancelled while the commit was in flight")
	}

	if err := o.state.Reset(ctx, kind); err != nil {
		invariant := pkgerrors.Wrap(pkgerrors.CodeFlowInvariant, err, "flow state was not reset after a successful commit")
		o.logg.Error(o.logg.WithField(logCtx, "commit_id", result.ID), "flow.commit.reset_failed", invariant)
		return Navigation{}, invariant
	}

	outcome := metrics.OutcomeSuccess
	if result.Replayed {
		outcome = metrics.OutcomeReplayed
	}
	o.metrics.ObserveCommit(kind.String(), outcome, elapsed)
	o.metrics.IncReset(kind.String(), "commit")
	o.logg.Info(o.logg.WithFields(logCtx, map[string]any{"commit_id": result.ID, "replayed": result.Replayed}), "flow.commit.succeeded")

	nav := o.navigation(kind, 0, flowstate.FlowData{})
	nav.Done = true
	nav.Result = &result
	return nav, nil
}

func buildCommitRequest(kind enums.FlowKind, data flowstate.FlowData) CommitRequest {
	req := CommitRequest{
		ResolvedEntityID: data.EntityID,
		IdempotencyKey:   data.IdempotencyKey,
	}
	switch kind {
	case enums.FlowKindSales:
		req.AmountCents = data.AmountCents
	case enums.FlowKindCheckout:
		req.AmountCents = data.AmountCents
		req.Method = data.PaymentMethod
	case enums.FlowKindRegistration:
		req.Customer = &CustomerDetails{Name: data.CustomerName, Phone: data.CustomerPhone}
	case enums.FlowKindRefunds:
		req.AmountCents = data.AmountCents
		req.RefundOf = data.RefundOfID
	}
	return req
}

func (o *Orchestrator) beginCommit(kind enums.FlowKind) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[kind] {
		return 0, false
	}
	o.inflight[kind] = true
	return o.epochs[kind], true
}

func (o *Orchestrator) endCommit(kind enums.FlowKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, kind)
}

func (o *Orchestrator) cancelledSince(kind enums.FlowKind, epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epochs[kind] != epoch
}

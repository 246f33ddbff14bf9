// Package resolver validates a scanned or typed code by racing a lookup by
// canonical id against a lookup by label.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
)

const defaultLookupTimeout = 5 * time.Second

// Entity is a QR-bearing record as seen by a terminal.
type Entity struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	CustomerID string `json:"customer_id,omitempty"`
}

func (e Entity) HasOwner() bool {
	return e.CustomerID != ""
}

// Satisfies reports whether e is acceptable for kind. Registration wants a
// free code, every other flow wants one that already has an owner.
func Satisfies(kind enums.FlowKind, e Entity) bool {
	return kind.RequiresOwner() == e.HasOwner()
}

// Lookup is the pair of entity queries. Both return (nil, nil) when nothing
// matches.
type Lookup interface {
	LookupByID(ctx context.Context, kind enums.FlowKind, id string) (*Entity, error)
	LookupByLabel(ctx context.Context, kind enums.FlowKind, label string) (*Entity, error)
}

type Resolver struct {
	lookup  Lookup
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.FlowMetrics
}

type Option func(*Resolver)

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(r *Resolver) {
		if logg != nil {
			r.logg = logg
		}
	}
}

func WithMetrics(m *metrics.FlowMetrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func New(lookup Lookup, opts ...Option) (*Resolver, error) {
	if lookup == nil {
		return nil, errors.New("entity lookup is required")
	}
	r := &Resolver{lookup: lookup, timeout: defaultLookupTimeout, logg: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type lookupResult struct {
	source string
	entity *Entity
	err    error
}

// Resolve issues both lookups at once and returns the first result that
// satisfies the kind's predicate. The losing lookup is cancelled. When both
// miss or fail the error carries CodeInvalidCode.
func (r *Resolver) Resolve(ctx context.Context, kind enums.FlowKind, code string) (Entity, error) {
	if !kind.IsValid() {
		return Entity{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown flow kind")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Entity{}, pkgerrors.New(pkgerrors.CodeInvalidCode, "code is required")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make(chan lookupResult, 2)
	go func() {
		entity, err := r.lookup.LookupByID(lookupCtx, kind, code)
		results <- lookupResult{source: "id", entity: entity, err: err}
	}()
	go func() {
		entity, err := r.lookup.LookupByLabel(lookupCtx, kind, code)
		results <- lookupResult{source: "label", entity: entity, err: err}
	}()

	var failures error
wait:
	for pending := 2; pending > 0; pending-- {
		select {
		case res := <-results:
			if res.err != nil {
				failures = multierr.Append(failures, res.err)
				continue
			}
			if res.entity != nil && Satisfies(kind, *res.entity) {
				r.metrics.IncResolution(kind.String(), metrics.OutcomeSuccess)
				return *res.entity, nil
			}
		case <-lookupCtx.Done():
			if err := ctx.Err(); err != nil {
				return Entity{}, err
			}
			failures = multierr.Append(failures, lookupCtx.Err())
			break wait
		}
	}

	r.metrics.IncResolution(kind.String(), metrics.OutcomeFailure)
	return Entity{}, pkgerrors.Wrap(pkgerrors.CodeInvalidCode, failures, "code does not match an eligible entity").
		WithDetails(map[string]any{"code": code, "flow_kind": kind.String()})
}

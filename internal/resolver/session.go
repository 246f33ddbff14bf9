package resolver

import (
	"context"
	"sync"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/metrics"
)

// Status is the combined view of the current input's resolution.
type Status struct {
	Input   string
	Loading bool
	Entity  *Entity
	Err     error
}

// Session tracks one step's code input. Each SetInput supersedes the previous
// one: results for an older input are dropped, and onResolved fires at most
// once per input value.
type Session struct {
	resolver   *Resolver
	kind       enums.FlowKind
	onResolved func(context.Context, Entity)

	mu        sync.Mutex
	gen       uint64
	input     string
	loading   bool
	entity    *Entity
	err       error
	navigated bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSession binds a resolver to kind. onResolved runs on the resolving
// goroutine and may block.
func (r *Resolver) NewSession(kind enums.FlowKind, onResolved func(context.Context, Entity)) *Session {
	return &Session{resolver: r, kind: kind, onResolved: onResolved}
}

// SetInput replaces the current code and starts resolving it.
func (s *Session) SetInput(ctx context.Context, code string) {
	s.start(ctx, code, true)
}

// Revalidate resolves the current input again. A repeat success does not
// call onResolved a second time.
func (s *Session) Revalidate(ctx context.Context) {
	s.mu.Lock()
	code := s.input
	s.mu.Unlock()
	s.start(ctx, code, false)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Input: s.input, Loading: s.loading, Err: s.err}
	if s.entity != nil {
		e := *s.entity
		st.Entity = &e
	}
	return st
}

// Wait blocks until every started resolution has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels any outstanding resolution.
func (s *Session) Close() {
	s.mu.Lock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loading = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) start(ctx context.Context, code string, inputChanged bool) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.input = code
	s.loading = true
	s.err = nil
	if inputChanged {
		s.entity = nil
		s.navigated = false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		entity, err := s.resolver.Resolve(runCtx, s.kind, code)
		s.finish(runCtx, gen, entity, err)
	}()
}

func (s *Session) finish(ctx context.Context, gen uint64, entity Entity, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.resolver.metrics.IncResolution(s.kind.String(), metrics.OutcomeStale)
		logCtx := s.resolver.logg.WithField(ctx, "error_code", string(pkgerrors.CodeResolverRace))
		s.resolver.logg.Debug(logCtx, "resolver.stale_result")
		return
	}
	s.loading = false
	s.cancel = nil
	if err != nil {
		s.err = err
		s.entity = nil
		s.mu.Unlock()
		return
	}
	s.entity = &entity
	fire := !s.navigated && s.onResolved != nil
	s.navigated = true
	s.mu.Unlock()

	if fire {
		s.onResolved(context.WithoutCancel(ctx), entity)
	}
}

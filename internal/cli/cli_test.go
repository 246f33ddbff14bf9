package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/posflow/internal/flow"
	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/internal/gateway"
	"github.com/angelmondragon/posflow/internal/resolver"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/enums"
	"github.com/angelmondragon/posflow/pkg/logger"
)

// fakeGateway serves the lookups and commits a terminal needs.
type fakeGateway struct {
	mu       sync.Mutex
	entities []resolver.Entity
	commits  map[string]flow.CommitRequest
	calls    int
}

func (g *fakeGateway) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/entities/{kind}/by-id/{code}", g.lookup(func(e resolver.Entity, code string) bool { return e.ID == code }))
	r.Get("/api/v1/entities/{kind}/by-label/{code}", g.lookup(func(e resolver.Entity, code string) bool { return e.Label == strings.ToUpper(code) }))
	r.Post("/api/v1/commits/{kind}", func(w http.ResponseWriter, r *http.Request) {
		var req flow.CommitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.calls++
		_, seen := g.commits[req.IdempotencyKey]
		g.commits[req.IdempotencyKey] = req
		g.mu.Unlock()

		status := http.StatusCreated
		if seen {
			w.Header().Set("X-Idempotent-Replay", "true")
			status = http.StatusOK
		}
		writeEnvelope(w, status, flow.CommitResult{
			ID:             "commit-" + req.IdempotencyKey,
			Kind:           enums.FlowKind(chi.URLParam(r, "kind")),
			IdempotencyKey: req.IdempotencyKey,
			AmountCents:    req.AmountCents,
			EntityID:       req.ResolvedEntityID,
		})
	})
	return r
}

func (g *fakeGateway) lookup(match func(resolver.Entity, string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := enums.FlowKind(chi.URLParam(r, "kind"))
		code := chi.URLParam(r, "code")
		for _, e := range g.entities {
			if match(e, code) && resolver.Satisfies(kind, e) {
				writeEnvelope(w, http.StatusOK, e)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

type harness struct {
	gateway *fakeGateway
	opts    *RootOptions
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := &fakeGateway{
		entities: []resolver.Entity{
			{ID: "e-owned", Label: "CARD-1", CustomerID: "c-1"},
			{ID: "e-free", Label: "FREE-1"},
		},
		commits: map[string]flow.CommitRequest{},
	}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	// One store for the whole test so state survives between invocations,
	// as the SQLite file does for a real terminal.
	store := flowstate.NewMemoryStore()
	cfg := &config.TerminalConfig{
		Gateway: config.GatewayConfig{BaseURL: srv.URL, Timeout: 2 * time.Second},
		Flow:    config.FlowConfig{CaptureTimeout: 2 * time.Second, ResolverTimeout: time.Second},
	}
	opts := &RootOptions{}
	opts.NewEnv = func(ctx context.Context, o *RootOptions) (*Env, error) {
		client, err := gateway.NewClient(cfg.Gateway, nil)
		if err != nil {
			return nil, err
		}
		env := &Env{Config: cfg, Logger: logger.Nop(), Gateway: client}
		env.enableMetrics(o.MetricsFile)
		if err := env.wire(store, cfg.Flow, logger.Nop()); err != nil {
			return nil, err
		}
		return env, nil
	}
	return &harness{gateway: fake, opts: opts}
}

func (h *harness) run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(h.opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSalesWizardFromTheCommandLine(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, nil, "flow", "scan", "sales", "card-1")
	require.NoError(t, err)
	assert.Contains(t, out, "sales step 2 (amount)")

	out, err = h.run(t, nil, "flow", "submit", "sales", "2", "--amount", "75.50")
	require.NoError(t, err)
	assert.Contains(t, out, "R 75.50")

	out, err = h.run(t, nil, "flow", "commit", "sales")
	require.NoError(t, err)
	assert.Contains(t, out, "sales committed R 75.50")
	assert.Contains(t, out, "sales complete, back to /sales")

	require.Len(t, h.gateway.commits, 1)
	for key, req := range h.gateway.commits {
		assert.True(t, strings.HasPrefix(key, "sales_"))
		assert.Equal(t, int64(7550), req.AmountCents)
		assert.Equal(t, "e-owned", req.ResolvedEntityID)
	}
}

func TestMetricsFileRecordsTerminalActivity(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "posctl.prom")

	_, err := h.run(t, nil, "--metrics-file", path, "flow", "scan", "sales", "CARD-1")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `posflow_resolver_total{kind="sales",outcome="success"} 1`)

	_, err = h.run(t, nil, "flow", "submit", "sales", "2", "--amount", "12")
	require.NoError(t, err)

	_, err = h.run(t, nil, "--metrics-file", path, "flow", "commit", "sales")
	require.NoError(t, err)
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `posflow_commits_total{kind="sales",outcome="success"} 1`)
	assert.Contains(t, string(raw), `posflow_flow_resets_total{kind="sales",reason="commit"} 1`)
}

func TestEnterRedirectsToFirstIncompleteStep(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, nil, "flow", "enter", "/refunds/step3")
	require.NoError(t, err)
	assert.Contains(t, out, "redirected")
	assert.Contains(t, out, "refunds step 1 (customer) at /refunds/step1")
}

func TestStatusAsJSON(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "flow", "scan", "checkout", "CARD-1")
	require.NoError(t, err)

	out, err := h.run(t, nil, "--format", "json", "flow", "status", "checkout")
	require.NoError(t, err)

	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "checkout", status.Kind)
	assert.Equal(t, []int{1}, status.Completed)
	assert.Equal(t, "/checkout/step2", status.Next)
	assert.Equal(t, "e-owned", status.Data.EntityID)
	assert.True(t, strings.HasPrefix(status.Data.IdempotencyKey, "checkout_"))
}

func TestTypedCodesRetryUntilOneResolves(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "flow", "submit", "registration", "1", "--name", "Thandi", "--phone", "0821234567")
	require.NoError(t, err)

	// CARD-1 already has an owner, so registration rejects it.
	out, err := h.run(t, strings.NewReader("CARD-1\nfree-1\n"), "flow", "scan", "registration")
	require.NoError(t, err)
	assert.Contains(t, out, "registration step 3 (confirm)")
	assert.Contains(t, out, "FREE-1 (e-free)")
}

func TestTypedCodesFailWhenInputEnds(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, strings.NewReader("NOPE\n"), "flow", "scan", "sales")
	require.Error(t, err)
}

func TestDeviceScanReadsHandheldScanner(t *testing.T) {
	h := newHarness(t)

	// A handheld scanner keeps sending while the trigger is held; values
	// decoded during preview are dropped.
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer pw.Close()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := pw.Write([]byte("CARD-1\n")); err != nil {
					return
				}
			}
		}
	}()

	out, err := h.run(t, pr, "flow", "scan", "sales", "--device")
	close(done)
	require.NoError(t, err)
	assert.Contains(t, out, "sales step 2 (amount)")
}

func TestCommitStartsNextSaleWithFreshKey(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "flow", "scan", "sales", "CARD-1")
	require.NoError(t, err)
	_, err = h.run(t, nil, "flow", "submit", "sales", "2", "--amount", "10")
	require.NoError(t, err)
	status, err := h.run(t, nil, "--format", "json", "flow", "status", "sales")
	require.NoError(t, err)
	var before statusOutput
	require.NoError(t, json.Unmarshal([]byte(status), &before))

	_, err = h.run(t, nil, "flow", "commit", "sales")
	require.NoError(t, err)

	// The flow was reset, so a new sale gets a new key.
	_, err = h.run(t, nil, "flow", "scan", "sales", "CARD-1")
	require.NoError(t, err)
	status, err = h.run(t, nil, "--format", "json", "flow", "status", "sales")
	require.NoError(t, err)
	var after statusOutput
	require.NoError(t, json.Unmarshal([]byte(status), &after))

	assert.NotEqual(t, before.Data.IdempotencyKey, after.Data.IdempotencyKey)
	_, committed := h.gateway.commits[before.Data.IdempotencyKey]
	assert.True(t, committed)
}

func TestCancelForgetsTheFlow(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "flow", "scan", "sales", "CARD-1")
	require.NoError(t, err)
	_, err = h.run(t, nil, "flow", "cancel", "sales")
	require.NoError(t, err)

	out, err := h.run(t, nil, "--format", "json", "flow", "status", "sales")
	require.NoError(t, err)
	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Empty(t, status.Completed)
	assert.Empty(t, status.Data.EntityID)
}

func TestEntityLookupAppliesKindPredicate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, nil, "entity", "lookup", "sales", "CARD-1")
	require.NoError(t, err)
	assert.Contains(t, out, "CARD-1 e-owned owner c-1")

	_, err = h.run(t, nil, "entity", "lookup", "registration", "CARD-1")
	require.Error(t, err)
}

func TestInvalidFormatIsRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "--format", "yaml", "flow", "status", "sales")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		args    []string
		kind    enums.FlowKind
		step    int
		resume  bool
		wantErr bool
	}{
		{args: []string{"sales", "2"}, kind: enums.FlowKindSales, step: 2},
		{args: []string{"Checkout"}, kind: enums.FlowKindCheckout, resume: true},
		{args: []string{"/refunds/step4"}, kind: enums.FlowKindRefunds, step: 4},
		{args: []string{"/refunds"}, kind: enums.FlowKindRefunds, step: 0},
		{args: []string{"/refunds/step4", "2"}, wantErr: true},
		{args: []string{"sales", "two"}, wantErr: true},
		{args: []string{"layaway", "1"}, wantErr: true},
	}
	for _, tt := range tests {
		kind, step, resume, err := parseTarget(tt.args)
		if tt.wantErr {
			assert.Error(t, err, tt.args)
			continue
		}
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.kind, kind, tt.args)
		assert.Equal(t, tt.step, step, tt.args)
		assert.Equal(t, tt.resume, resume, tt.args)
	}
}

func TestSubmitOptionsPatch(t *testing.T) {
	patch, err := submitOptions{Amount: "R 12,5", Method: "Card", Name: " Sipho "}.patch()
	require.NoError(t, err)
	assert.Equal(t, int64(1250), patch.AmountCents)
	assert.Equal(t, enums.PaymentMethodCard, patch.PaymentMethod)
	assert.Equal(t, "Sipho", patch.CustomerName)

	_, err = submitOptions{Amount: "1.005"}.patch()
	assert.Error(t, err)
	_, err = submitOptions{Method: "cheque"}.patch()
	assert.Error(t, err)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/posflow/internal/flow"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.GatewayConfig{BaseURL: srv.URL + "/", Token: "tok", Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(config.GatewayConfig{}, nil); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}

func TestLookupByIDFoundAndMissing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		switch r.URL.Path {
		case "/api/v1/entities/sales/by-id/e1":
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"id": "e1", "label": "QR1", "customer_id": "c1"}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "entity not found"}})
		}
	}))

	got, err := c.LookupByID(context.Background(), enums.FlowKindSales, "e1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.Label != "QR1" || !got.HasOwner() {
		t.Fatalf("unexpected entity %+v", got)
	}

	got, err = c.LookupByLabel(context.Background(), enums.FlowKindSales, "nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) on 404, got %+v %v", got, err)
	}
}

func TestLookupSurfacesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]string{"code": "DEPENDENCY_ERROR", "message": "dependency unavailable"}})
	}))

	_, err := c.LookupByID(context.Background(), enums.FlowKindSales, "e1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestCommitSendsKeyInHeaderAndBody(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/commits/checkout" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body flow.CommitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if r.Header.Get("Idempotency-Key") != body.IdempotencyKey {
			t.Errorf("header %q and body %q keys differ", r.Header.Get("Idempotency-Key"), body.IdempotencyKey)
		}
		w.Header().Set("X-Idempotent-Replay", "true")
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"id": "c-1", "kind": "checkout", "idempotency_key": body.IdempotencyKey, "amount_cents": body.AmountCents,
		}})
	}))

	res, err := c.Commit(context.Background(), enums.FlowKindCheckout, flow.CommitRequest{
		AmountCents:      900,
		ResolvedEntityID: "e1",
		IdempotencyKey:   "checkout_k",
		Method:           enums.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.ID != "c-1" || res.AmountCents != 900 || !res.Replayed {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", calls.Load())
	}
}

func TestCommitIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]string{"code": "RATE_LIMITED", "message": "too many requests"}})
	}))

	_, err := c.Commit(context.Background(), enums.FlowKindSales, flow.CommitRequest{IdempotencyKey: "sales_k", AmountCents: 1})
	if !pkgerrors.IsCode(err, pkgerrors.CodeRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("commit must not be retried by the client, got %d calls", calls.Load())
	}
}

func TestCommitRequiresKey(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	}))
	_, err := c.Commit(context.Background(), enums.FlowKindSales, flow.CommitRequest{AmountCents: 1})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeAPIErrorWithoutEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	_, err := c.Commit(context.Background(), enums.FlowKindSales, flow.CommitRequest{IdempotencyKey: "sales_k"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected raw APIError, got %v", err)
	}
}

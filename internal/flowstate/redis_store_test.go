package flowstate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgredis "github.com/angelmondragon/posflow/pkg/redis"
)

type fakeRedis struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", pkgredis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) FlowSnapshotKey(profile, session, kind string) string {
	return "posflow:flow:" + profile + ":" + session + ":" + kind
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store, err := NewRedisStore(client, "till-1", "tab-a", time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, ok, err := store.Load(ctx, enums.FlowKindSales); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	snap := NewSnapshot(enums.FlowKindSales)
	snap.Steps[1] = true
	snap.Data = FlowData{EntityID: "cust-1", IdempotencyKey: "sales_k"}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := client.ttls["posflow:flow:till-1:tab-a:sales"]; got != time.Hour {
		t.Fatalf("expected ttl to be applied, got %v", got)
	}

	loaded, ok, err := store.Load(ctx, enums.FlowKindSales)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !loaded.IsStepComplete(1) || loaded.Data.IdempotencyKey != "sales_k" {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}

	if err := store.Delete(ctx, enums.FlowKindSales); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Load(ctx, enums.FlowKindSales); ok {
		t.Fatalf("expected snapshot removed")
	}
}

func TestRedisStoreSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	tabA, _ := NewRedisStore(client, "till-1", "tab-a", 0)
	tabB, _ := NewRedisStore(client, "till-1", "tab-b", 0)

	snap := NewSnapshot(enums.FlowKindCheckout)
	snap.Data.AmountCents = 100
	if err := tabA.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := tabB.Load(ctx, enums.FlowKindCheckout); ok {
		t.Fatalf("session b must not see session a's flow")
	}
}

func TestRedisStoreSurfacesErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store, _ := NewRedisStore(client, "till-1", "tab-a", 0)
	if _, _, err := store.Load(context.Background(), enums.FlowKindSales); err == nil {
		t.Fatalf("expected load error")
	}
	if _, err := NewRedisStore(client, "", "tab-a", 0); err == nil {
		t.Fatalf("expected profile validation error")
	}
}

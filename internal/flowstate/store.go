package flowstate

import (
	"context"
	"sync"

	"github.com/angelmondragon/posflow/pkg/enums"
)

// Store is durable key-value persistence for snapshots, scoped to a single
// terminal session. Save must replace the whole snapshot in one write.
type Store interface {
	Load(ctx context.Context, kind enums.FlowKind) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, kind enums.FlowKind) error
}

// MemoryStore keeps snapshots in process. It does not survive restarts.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[enums.FlowKind]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: map[enums.FlowKind]Snapshot{}}
}

func (m *MemoryStore) Load(_ context.Context, kind enums.FlowKind) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[kind]
	if !ok {
		return Snapshot{}, false, nil
	}
	return snap.Clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Kind] = snap.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, kind enums.FlowKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, kind)
	return nil
}

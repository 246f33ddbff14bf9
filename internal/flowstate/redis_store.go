package flowstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/posflow/pkg/enums"
	pkgredis "github.com/angelmondragon/posflow/pkg/redis"
)

type redisSnapshotClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	FlowSnapshotKey(profile, session, kind string) string
}

// RedisStore persists snapshots for kiosks that keep terminal state on a
// shared redis instance. Keys are scoped by profile and session so two
// operators never see each other's flows.
type RedisStore struct {
	client  redisSnapshotClient
	profile string
	session string
	ttl     time.Duration
}

func NewRedisStore(client redisSnapshotClient, profile, session string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if profile == "" || session == "" {
		return nil, errors.New("terminal profile and session are required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &RedisStore{client: client, profile: profile, session: session, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context, kind enums.FlowKind) (Snapshot, bool, error) {
	payload, err := s.client.Get(ctx, s.key(kind))
	if errors.Is(err, pkgredis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load %s snapshot: %w", kind, err)
	}
	snap, err := decodeSnapshot(kind, payload)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(snap.Kind), payload, s.ttl); err != nil {
		return fmt.Errorf("save %s snapshot: %w", snap.Kind, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, kind enums.FlowKind) error {
	if err := s.client.Del(ctx, s.key(kind)); err != nil {
		return fmt.Errorf("delete %s snapshot: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) key(kind enums.FlowKind) string {
	return s.client.FlowSnapshotKey(s.profile, s.session, kind.String())
}

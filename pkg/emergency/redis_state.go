package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

// DefaultStateKey is the Redis key holding the kill-switch state.
const DefaultStateKey = "integrity:killswitch"

// RedisStateStore shares the kill-switch state between instances. Writes use
// WATCH/MULTI so a concurrent transition on another instance aborts this one.
type RedisStateStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStateStore creates a store backed by Redis.
func NewRedisStateStore(addr, password string, db int) *RedisStateStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStateStore{client: rdb, key: DefaultStateKey}
}

// NewRedisStateStoreWithClient wraps an existing client under key.
func NewRedisStateStoreWithClient(client redis.UniversalClient, key string) *RedisStateStore {
	if key == "" {
		key = DefaultStateKey
	}
	return &RedisStateStore{client: client, key: key}
}

// Ping checks connectivity.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStateStore) get(ctx context.Context, c getter) (contracts.KillSwitchState, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return contracts.KillSwitchState{}, nil
	}
	if err != nil {
		return contracts.KillSwitchState{}, fmt.Errorf("read kill switch state: %w", err)
	}
	var st contracts.KillSwitchState
	if err := json.Unmarshal(raw, &st); err != nil {
		return contracts.KillSwitchState{}, fmt.Errorf("decode kill switch state: %w", err)
	}
	return st, nil
}

func (s *RedisStateStore) Load(ctx context.Context) (contracts.KillSwitchState, error) {
	return s.get(ctx, s.client)
}

func (s *RedisStateStore) CompareAndSwap(ctx context.Context, expected uint64, next contracts.KillSwitchState) (bool, error) {
	raw, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode kill switch state: %w", err)
	}

	swapped := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, raw, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, s.key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return swapped, nil
}

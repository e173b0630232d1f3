package processstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

const (
	defaultKeyPrefix  = "reconciler:process:"
	maxUpdateAttempts = 8
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL applied to every write; zero keeps entries until deleted.
	TTL time.Duration
}

// RedisStore keeps each process state as a JSON string under prefix+id.
// Updates use WATCH/MULTI so concurrent writers in different processes
// cannot interleave.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStoreWithClient(client, cfg.Prefix)
	s.ttl = cfg.TTL
	return s, nil
}

// NewRedisStoreWithClient creates a store with an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id types.ProcessID) string {
	return s.keyPrefix + string(id)
}

func (s *RedisStore) Create(ctx context.Context, state types.ProcessState) error {
	if err := ValidateID(state.ID); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(state.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, state.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	return s.get(ctx, s.client, id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c stringGetter, id types.ProcessID) (types.ProcessState, error) {
	data, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.ProcessState{}, fmt.Errorf("failed to get process: %w", err)
	}
	var state types.ProcessState
	if err := json.Unmarshal(data, &state); err != nil {
		return types.ProcessState{}, fmt.Errorf("failed to decode process %s: %w", id, err)
	}
	return state, nil
}

func (s *RedisStore) Update(ctx context.Context, id types.ProcessID, fn Mutator) (types.ProcessState, error) {
	key := s.key(id)
	var prev, next types.ProcessState

	txf := func(tx *redis.Tx) error {
		var err error
		if prev, err = s.get(ctx, tx, id); err != nil {
			return err
		}
		if next, err = apply(prev, fn, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return prev, err
	}
	return prev, fmt.Errorf("failed to update process %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, id types.ProcessID) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete process: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]types.ProcessState, error) {
	var out []types.ProcessState
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := types.ProcessID(iter.Val()[len(s.keyPrefix):])
		state, err := s.get(ctx, s.client, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan processes: %w", err)
	}
	sortByCreated(out)
	return out, nil
}

var _ Store = (*RedisStore)(nil)

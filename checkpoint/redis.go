package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/agentstation/screenflow"
)

// DefaultPrefix is the key prefix used by RedisStore.
const DefaultPrefix = "screenflow:run:"

// noExpiry is the index score of runs without a TTL (2100-01-01).
const noExpiry = 4102444800

// RedisStore keeps one list of JSON checkpoints per run, plus a sorted set
// indexing the runs by expiry.
//
// Values read back are JSON-shaped: numbers become float64, records
// map[string]any and sequences []any.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration of a run's checkpoints, refreshed on every save.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to the redis server at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(runID string) string {
	return s.prefix + runID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save appends cp to its run's list.
func (s *RedisStore) Save(ctx context.Context, cp screenflow.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	score := float64(noExpiry)
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(cp.RunID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(cp.RunID), s.ttl)
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: cp.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load returns the run's checkpoints in step order.
func (s *RedisStore) Load(ctx context.Context, runID string) ([]screenflow.Checkpoint, error) {
	raw, err := s.client.LRange(ctx, s.key(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrRunNotFound
	}

	cps := make([]screenflow.Checkpoint, 0, len(raw))
	for i, item := range raw {
		var cp screenflow.Checkpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint %d: %w", i, err)
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// Delete removes a run.
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(runID))
	pipe.ZRem(ctx, s.indexKey(), runID)
	_, err := pipe.Exec(ctx)
	return err
}

// Runs lists the runs whose checkpoints have not expired, dropping expired
// entries from the index.
func (s *RedisStore) Runs(ctx context.Context) ([]string, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", now).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired runs: %w", err)
	}
	runs, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

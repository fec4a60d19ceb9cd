package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/RhythrosaLabs/loom/pkg/schema"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "loom:run:"
)

// Redis keeps snapshots as JSON values that expire after TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl)
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func key(runID string) string { return keyPrefix + runID }

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Save(ctx context.Context, snap *schema.RunDone) error {
	if snap == nil || snap.RunID == "" {
		return errors.New("runstate: snapshot without run id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, key(snap.RunID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save run %s: %w", snap.RunID, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, runID string) (*schema.RunDone, error) {
	data, err := r.client.Get(ctx, key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var snap schema.RunDone
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &snap, nil
}

func (r *Redis) Close() error { return r.client.Close() }

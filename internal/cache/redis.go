package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the blob in a Redis string for hosted deployments where the
// session should survive process restarts on another node.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis wraps an existing client. keyPrefix namespaces the fixed
// session key; empty means no prefix.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	key := SessionKey
	if keyPrefix != "" {
		key = keyPrefix + ":" + SessionKey
	}
	return &Redis{client: client, key: key}
}

// Load returns the stored blob.
func (r *Redis) Load(ctx context.Context) ([]byte, error) {
	blob, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Save overwrites the stored blob. No TTL: the session store clears it
// explicitly on sign-out.
func (r *Redis) Save(ctx context.Context, blob []byte) error {
	return r.client.Set(ctx, r.key, blob, 0).Err()
}

// Clear removes the stored blob.
func (r *Redis) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

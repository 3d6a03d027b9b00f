package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists documents in Redis. Each document lives under
// doc:<collection>:<key>, with a per-collection set tracking membership for
// listing. Batches commit through a MULTI/EXEC pipeline, which is what makes
// them atomic for this backend.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store over an established client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func docKey(collection, key string) string {
	return "doc:" + collection + ":" + key
}

func collKey(collection string) string {
	return "coll:" + collection
}

func (s *RedisStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, docKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, collection, key string, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(collection, key), data, 0)
		pipe.SAdd(ctx, collKey(collection), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, key))
		pipe.SRem(ctx, collKey(collection), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, collection string) ([]Document, error) {
	keys, err := s.client.SMembers(ctx, collKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", collection, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	docKeys := make([]string, len(keys))
	for i, key := range keys {
		docKeys[i] = docKey(collection, key)
	}
	values, err := s.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(keys))
	for i, v := range values {
		// A member whose document vanished between SMEMBERS and MGET is
		// skipped rather than surfaced as a phantom.
		raw, ok := v.(string)
		if !ok {
			continue
		}
		docs = append(docs, Document{Key: keys[i], Data: []byte(raw)})
	}
	return docs, nil
}

func (s *RedisStore) ApplyBatch(ctx context.Context, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range batch.ops {
			switch o.kind {
			case opSet:
				pipe.Set(ctx, docKey(o.collection, o.key), o.data, 0)
				pipe.SAdd(ctx, collKey(o.collection), o.key)
			case opDelete:
				pipe.Del(ctx, docKey(o.collection, o.key))
				pipe.SRem(ctx, collKey(o.collection), o.key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis batch: %w", err)
	}
	return nil
}

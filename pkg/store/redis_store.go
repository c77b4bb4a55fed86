package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

const (
	redisKeyPrefix = "qod:prov:"
	redisIndexKey  = "qod:prov:index"
)

// RedisStore implements provisioning.Store using Redis. Each record is one
// JSON string value; a set holds the keys so List avoids SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
	index  string
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr string, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisStoreWithClient(rdb, redisKeyPrefix, redisIndexKey)
}

func newRedisStoreWithClient(client *redis.Client, prefix, index string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, index: index}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(accessIdentifier string) string {
	return s.prefix + accessIdentifier
}

func (s *RedisStore) Put(ctx context.Context, rec provisioning.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(rec.AccessIdentifier), doc, 0)
		p.SAdd(ctx, s.index, rec.AccessIdentifier)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, accessIdentifier string) (*provisioning.Record, error) {
	doc, err := s.client.Get(ctx, s.key(accessIdentifier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var rec provisioning.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", accessIdentifier, err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, accessIdentifier string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.key(accessIdentifier))
		p.SRem(ctx, s.index, accessIdentifier)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete failed: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) List(ctx context.Context) ([]provisioning.Record, error) {
	ids, err := s.client.SMembers(ctx, s.index).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list failed: %w", err)
	}

	out := make([]provisioning.Record, 0, len(vals))
	for i, v := range vals {
		doc, ok := v.(string)
		if !ok {
			// Index entry without a value; a concurrent delete raced us.
			continue
		}
		var rec provisioning.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

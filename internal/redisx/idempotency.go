package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency remembers the order ids produced for a (source, buyer, Idempotency-Key) triple.
// The source keeps one key from replaying across creation endpoints.
type Idempotency struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func (s *Idempotency) key(source, buyer, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, source, buyer, key)
}

// Get returns the stored ids, or ok=false when the key was never used.
func (s *Idempotency) Get(ctx context.Context, source, buyer, key string) (ids []string, ok bool, err error) {
	raw, err := s.RDB.Get(ctx, s.key(source, buyer, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("idempotency record %s: %w", key, err)
	}
	return ids, true, nil
}

// Put stores ids unless a record already exists.
func (s *Idempotency) Put(ctx context.Context, source, buyer, key string, ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return s.RDB.SetNX(ctx, s.key(source, buyer, key), raw, ttl).Err()
}

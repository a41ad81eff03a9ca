package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"signoff-backend/internal/infrastructure/cache"
)

// pendingTTL bounds how long a reservation survives a handler that never finishes.
const pendingTTL = 60 * time.Second

// replayRecord is what the store keeps per key: a pending reservation first,
// then the finished response.
type replayRecord struct {
	Pending   bool      `json:"pending"`
	Status    int       `json:"status,omitempty"`
	Body      []byte    `json:"body,omitempty"`
	Digest    string    `json:"digest"`
	RequestAt int64     `json:"request_at_ms"`
	StoredAt  time.Time `json:"stored_at"`
}

func (r replayRecord) replayable() bool {
	return !r.Pending && r.Status != 0 && len(r.Body) > 0
}

type replayStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// key scopes a request id to the route and caller, so two participants
// reusing an id never collide.
func (s replayStore) key(method, route, participantID, requestID string) string {
	return cache.Key(s.prefix, "idem", strings.ToLower(method), route, participantID, requestID)
}

// reserve claims key with a pending record. It reports false when the key
// already exists.
func (s replayStore) reserve(ctx context.Context, key string, rec replayRecord) (bool, error) {
	rec.Pending = true
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, key, payload, pendingTTL).Result()
}

func (s replayStore) load(ctx context.Context, key string) (replayRecord, error) {
	var rec replayRecord
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(raw, &rec)
	return rec, err
}

// complete replaces the reservation with the finished response for ttl.
func (s replayStore) complete(ctx context.Context, key string, rec replayRecord) error {
	rec.Pending = false
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, payload, s.ttl).Err()
}

// release drops the reservation so the same id can be retried.
func (s replayStore) release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

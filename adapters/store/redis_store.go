package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/ports"
)

// RedisAssociationStore is a Redis implementation of the
// AssociationStore interface. Expiry is delegated to Redis TTLs, so an
// expired association simply stops existing.
type RedisAssociationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisAssociationStore creates a new Redis association store
func NewRedisAssociationStore(client *redis.Client) *RedisAssociationStore {
	return &RedisAssociationStore{
		client: client,
		prefix: "relier:assoc:",
	}
}

// storedAssociation is the Redis serialization of an association.
type storedAssociation struct {
	Endpoint  string         `json:"endpoint"`
	Handle    string         `json:"handle"`
	Secret    []byte         `json:"secret"`
	Type      core.AssocType `json:"type"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (s *RedisAssociationStore) key(endpoint, handle string) string {
	return s.prefix + endpoint + "|" + handle
}

func (s *RedisAssociationStore) latestKey(endpoint string) string {
	return s.prefix + "latest|" + endpoint
}

// Save persists an association with a TTL matching its expiry and marks
// it as the endpoint's latest.
func (s *RedisAssociationStore) Save(ctx context.Context, assoc *core.Association) error {
	ttl := time.Until(assoc.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: association already expired", core.ErrStoreOperationFailed)
	}

	payload, err := json.Marshal(storedAssociation(*assoc))
	if err != nil {
		return fmt.Errorf("failed to encode association: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(assoc.Endpoint, assoc.Handle), payload, ttl)
	pipe.Set(ctx, s.latestKey(assoc.Endpoint), assoc.Handle, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Lookup returns the association for (endpoint, handle)
func (s *RedisAssociationStore) Lookup(ctx context.Context, endpoint, handle string) (*core.Association, error) {
	payload, err := s.client.Get(ctx, s.key(endpoint, handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrAssociationNotFound
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	var stored storedAssociation
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode association: %w", err)
	}
	assoc := core.Association(stored)
	if assoc.Expired(time.Now()) {
		return nil, core.ErrAssociationNotFound
	}
	return &assoc, nil
}

// Latest returns the most recently saved association for an endpoint
func (s *RedisAssociationStore) Latest(ctx context.Context, endpoint string) (*core.Association, error) {
	handle, err := s.client.Get(ctx, s.latestKey(endpoint)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrAssociationNotFound
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return s.Lookup(ctx, endpoint, handle)
}

// Invalidate removes an association
func (s *RedisAssociationStore) Invalidate(ctx context.Context, endpoint, handle string) error {
	if err := s.client.Del(ctx, s.key(endpoint, handle)).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// RedisNonceStore is a Redis implementation of the NonceStore interface.
// SET NX gives the atomic test-and-set; the replay window doubles as the
// key TTL, so eviction needs no sweeper.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisNonceStore creates a new Redis nonce store with the given
// replay window
func NewRedisNonceStore(client *redis.Client, window time.Duration) *RedisNonceStore {
	return &RedisNonceStore{
		client: client,
		prefix: "relier:nonce:",
		window: window,
	}
}

// CheckAndRecord atomically tests and records a nonce for an endpoint
func (s *RedisNonceStore) CheckAndRecord(ctx context.Context, endpoint, nonce string) (bool, error) {
	key := s.prefix + endpoint + "|" + nonce

	fresh, err := s.client.SetNX(ctx, key, "1", s.window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return fresh, nil
}

var (
	_ ports.AssociationStore = (*RedisAssociationStore)(nil)
	_ ports.NonceStore       = (*RedisNonceStore)(nil)
)

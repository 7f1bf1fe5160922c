// Package store is the Pool Store: Redis-backed persistence for the free
// set, the borrow ledger, and the availability pub/sub channel.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/poolbroker/pkg/apierr"
)

const (
	freeSetKey    = "poolbroker:pool"
	ledgerKey     = "poolbroker:ledger"
	availChannel  = "poolbroker:availability"
	availMessage  = "available"
	dialTimeout   = 5 * time.Second
	commandPeriod = 5 * time.Second
)

// Store is the Pool Store contract (spec §4.A). Items are arbitrary JSON
// values; Canonicalize gives their pool/ledger key representation.
type Store interface {
	Borrow(ctx context.Context) (json.RawMessage, error)
	BorrowBlocking(ctx context.Context, timeout time.Duration) (json.RawMessage, error)
	ReturnItem(ctx context.Context, item json.RawMessage) error
	RecordBorrowed(ctx context.Context, item json.RawMessage, token string) error
	VerifyBorrowToken(ctx context.Context, item json.RawMessage, token string) error
	RemoveBorrowedRecord(ctx context.Context, item json.RawMessage) error
	ListItems(ctx context.Context) ([]json.RawMessage, error)
	ListBorrowed(ctx context.Context) (map[string]string, error)
	DeleteItem(ctx context.Context, item json.RawMessage) (bool, error)
	DeleteBorrowed(ctx context.Context, item json.RawMessage) (bool, error)
	ForceReturn(ctx context.Context, item json.RawMessage) error
	TestConnection(ctx context.Context) error
}

// RedisStore implements Store over go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// New builds a RedisStore from a redis:// URL (e.g. "redis://127.0.0.1/").
func New(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	opts.DialTimeout = dialTimeout
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Canonicalize round-trips item through interface{} so that structurally
// equal JSON values (regardless of key order or whitespace) produce the
// same string key for ledger/set membership.
func Canonicalize(item json.RawMessage) (string, error) {
	var v interface{}
	if err := json.Unmarshal(item, &v); err != nil {
		return "", apierr.Wrap(apierr.Validation, "item is not valid JSON", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", apierr.Wrap(apierr.Validation, "item is not valid JSON", err)
	}
	return string(out), nil
}

// TestConnection probes Redis connectivity; failure here is fatal at startup.
func (s *RedisStore) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandPeriod)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apierr.Wrap(apierr.StoreError, "redis ping failed", err)
	}
	return nil
}

// Borrow atomically pops one item from the free set.
func (s *RedisStore) Borrow(ctx context.Context) (json.RawMessage, error) {
	canon, err := s.client.SPop(ctx, freeSetKey).Result()
	if err == redis.Nil {
		return nil, apierr.New(apierr.Empty, "no items available")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.StoreError, "spop failed", err)
	}
	return json.RawMessage(canon), nil
}

// BorrowBlocking retries Borrow until an item is available or timeout
// elapses, waking on availability-channel notifications in between.
func (s *RedisStore) BorrowBlocking(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	item, err := s.Borrow(ctx)
	if err == nil {
		return item, nil
	}
	if e, ok := apierr.As(err); !ok || e.Kind != apierr.Empty {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	sub := s.client.Subscribe(ctx, availChannel)
	defer sub.Close()
	ch := sub.Channel()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, apierr.New(apierr.Empty, "no items available")
		}

		select {
		case <-ctx.Done():
			return nil, apierr.Wrap(apierr.StoreError, "borrow_blocking cancelled", ctx.Err())
		case <-time.After(remaining):
			return nil, apierr.New(apierr.Empty, "no items available")
		case <-ch:
			item, err := s.Borrow(ctx)
			if err == nil {
				return item, nil
			}
			if e, ok := apierr.As(err); !ok || e.Kind != apierr.Empty {
				return nil, err
			}
			// spurious wake-up or lost race with another waiter; loop
		}
	}
}

// ReturnItem adds item back to the free set then publishes an
// availability notification, in that order.
func (s *RedisStore) ReturnItem(ctx context.Context, item json.RawMessage) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, freeSetKey, canon).Err(); err != nil {
		return apierr.Wrap(apierr.StoreError, "sadd failed", err)
	}
	if err := s.client.Publish(ctx, availChannel, availMessage).Err(); err != nil {
		return apierr.Wrap(apierr.StoreError, "publish failed", err)
	}
	return nil
}

// RecordBorrowed writes the item -> token ledger entry.
func (s *RedisStore) RecordBorrowed(ctx context.Context, item json.RawMessage, token string) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, ledgerKey, canon, token).Err(); err != nil {
		return apierr.Wrap(apierr.StoreError, "hset failed", err)
	}
	return nil
}

// VerifyBorrowToken checks that token matches the ledger entry for item.
func (s *RedisStore) VerifyBorrowToken(ctx context.Context, item json.RawMessage, token string) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	stored, err := s.client.HGet(ctx, ledgerKey, canon).Result()
	if err == redis.Nil {
		return apierr.New(apierr.NotFound, "item has no borrow record")
	}
	if err != nil {
		return apierr.Wrap(apierr.StoreError, "hget failed", err)
	}
	if stored != token {
		return apierr.New(apierr.Unauthorized, "borrow token mismatch")
	}
	return nil
}

// RemoveBorrowedRecord deletes the ledger entry for item (idempotent).
func (s *RedisStore) RemoveBorrowedRecord(ctx context.Context, item json.RawMessage) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	if err := s.client.HDel(ctx, ledgerKey, canon).Err(); err != nil {
		return apierr.Wrap(apierr.StoreError, "hdel failed", err)
	}
	return nil
}

// ListItems returns every item currently in the free set.
func (s *RedisStore) ListItems(ctx context.Context) ([]json.RawMessage, error) {
	members, err := s.client.SMembers(ctx, freeSetKey).Result()
	if err != nil {
		return nil, apierr.Wrap(apierr.StoreError, "smembers failed", err)
	}
	items := make([]json.RawMessage, 0, len(members))
	for _, m := range members {
		items = append(items, json.RawMessage(m))
	}
	return items, nil
}

// ListBorrowed returns the full ledger as canonical-item -> token.
func (s *RedisStore) ListBorrowed(ctx context.Context) (map[string]string, error) {
	ledger, err := s.client.HGetAll(ctx, ledgerKey).Result()
	if err != nil {
		return nil, apierr.Wrap(apierr.StoreError, "hgetall failed", err)
	}
	return ledger, nil
}

// DeleteItem removes item from the free set. Returns false if absent.
func (s *RedisStore) DeleteItem(ctx context.Context, item json.RawMessage) (bool, error) {
	canon, err := Canonicalize(item)
	if err != nil {
		return false, err
	}
	n, err := s.client.SRem(ctx, freeSetKey, canon).Result()
	if err != nil {
		return false, apierr.Wrap(apierr.StoreError, "srem failed", err)
	}
	return n > 0, nil
}

// DeleteBorrowed removes a ledger entry without touching the free set.
// Returns false if absent.
func (s *RedisStore) DeleteBorrowed(ctx context.Context, item json.RawMessage) (bool, error) {
	canon, err := Canonicalize(item)
	if err != nil {
		return false, err
	}
	n, err := s.client.HDel(ctx, ledgerKey, canon).Result()
	if err != nil {
		return false, apierr.Wrap(apierr.StoreError, "hdel failed", err)
	}
	return n > 0, nil
}

// ForceReturn inserts item into the free set and clears any ledger entry
// for it, ignoring whether either side previously held it.
func (s *RedisStore) ForceReturn(ctx context.Context, item json.RawMessage) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, freeSetKey, canon)
	pipe.HDel(ctx, ledgerKey, canon)
	pipe.Publish(ctx, availChannel, availMessage)
	if _, err := pipe.Exec(ctx); err != nil {
		return apierr.Wrap(apierr.StoreError, "force_return pipeline failed", err)
	}
	return nil
}

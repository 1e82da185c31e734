// Package idempotency marks work as done in Redis so redelivered messages and
// retried webhooks are processed once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// Guard claims keys with SETNX under a fixed scope. Keys look like
// `mp:idempotency:<scope>:<id>`.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewGuard builds a guard for one scope; ttl bounds how long a claim suppresses duplicates.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("idempotency scope is required")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

// ConsumerGuard scopes claims to processed events of a named consumer.
func ConsumerGuard(store redis.IdempotencyStore, ttl time.Duration, consumer string) (*Guard, error) {
	if strings.TrimSpace(consumer) == "" {
		return nil, errors.New("consumer name is required")
	}
	return NewGuard(store, ttl, fmt.Sprintf("evt:processed:%s", consumer))
}

// CheckAndMark claims id. It reports true when id was already claimed.
func (g *Guard) CheckAndMark(ctx context.Context, id string) (bool, error) {
	key, err := g.key(id)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !set, nil
}

// CheckAndMarkEvent is CheckAndMark for outbox event ids.
func (g *Guard) CheckAndMarkEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return g.CheckAndMark(ctx, eventID.String())
}

// Release drops a claim so the next delivery is processed again.
func (g *Guard) Release(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

// ReleaseEvent is Release for outbox event ids.
func (g *Guard) ReleaseEvent(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return g.Release(ctx, eventID.String())
}

func (g *Guard) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("idempotency id is required")
	}
	return g.store.IdempotencyKey(g.scope, id), nil
}

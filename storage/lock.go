package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/viperdam/body-mode-sub006/clock"
)

// ErrLocked is returned when another owner holds an unexpired lock.
var ErrLocked = errors.New("lock held by another owner")

// Lock is a persisted advisory lock with a time-to-live. An owner that
// crashes without releasing simply lets the lock expire, after which the
// next caller takes it over.
type Lock struct {
	store Store
	key   string
	ttl   time.Duration
	clock clock.Clock
}

type lockRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewLock creates a lock stored under key.
func NewLock(store Store, key string, ttl time.Duration, clk clock.Clock) *Lock {
	if clk == nil {
		clk = clock.System{}
	}
	return &Lock{store: store, key: key, ttl: ttl, clock: clk}
}

// Acquire takes the lock and returns the owner token needed to release it.
func (l *Lock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	now := l.clock.Now()
	data, err := json.Marshal(lockRecord{Owner: token, ExpiresAt: now.Add(l.ttl)})
	if err != nil {
		return "", fmt.Errorf("marshal lock: %w", err)
	}

	err = l.store.Create(ctx, l.key, data)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrExists) {
		return "", fmt.Errorf("acquire %s: %w", l.key, err)
	}

	old, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// released between Create and Get
			if err := l.store.Create(ctx, l.key, data); err == nil {
				return token, nil
			}
			return "", ErrLocked
		}
		return "", fmt.Errorf("read %s: %w", l.key, err)
	}

	var held lockRecord
	if err := json.Unmarshal(old, &held); err == nil && now.Before(held.ExpiresAt) {
		return "", ErrLocked
	}
	// expired or unreadable: take it over
	if err := l.store.CompareAndSwap(ctx, l.key, old, data); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return "", ErrLocked
		}
		return "", fmt.Errorf("take over %s: %w", l.key, err)
	}
	return token, nil
}

// Release frees the lock if token still owns it. The record is swapped for
// an expired one only if it is unchanged since it was read.
func (l *Lock) Release(ctx context.Context, token string) error {
	data, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read %s: %w", l.key, err)
	}
	var held lockRecord
	if err := json.Unmarshal(data, &held); err == nil && held.Owner != token {
		return nil
	}
	released, err := json.Marshal(lockRecord{})
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := l.store.CompareAndSwap(ctx, l.key, data, released); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

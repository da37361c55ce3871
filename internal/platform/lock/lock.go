// Package lock provides a per-key mutual-exclusion primitive for the
// per-item queue manager (see internal/queue). A single process can get by
// with an in-memory map of sync.Mutex, one per external_item_id, the way
// the original workflow queue manager kept one asyncio.Lock per Monday
// item. Once the orchestrator runs as more than one replica, that
// in-process lock stops being exclusive across processes, so this package
// also offers a Redis-backed advisory lock (SET NX PX) keyed by item id;
// callers pick whichever Locker fits their deployment by constructing
// either NewInProcess or NewRedis.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards a named resource (an external_item_id) for the duration of
// a critical section. Implementations must be safe for concurrent use.
type Locker interface {
	// Lock blocks until the named key is acquired or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Unlock releases a previously acquired lock. It is idempotent.
type Unlock func()

// InProcess guards keys with one sync.Mutex per key, created lazily. It is
// sufficient for a single-replica deployment or for unit tests that never
// configure Redis.
type InProcess struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInProcess() *InProcess {
	return &InProcess{locks: map[string]*sync.Mutex{}}
}

func (p *InProcess) Lock(ctx context.Context, key string) (Unlock, error) {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return func() { m.Unlock() }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Redis implements a cross-process advisory lock using SET key value NX PX,
// matching spec.md's requirement that horizontal scaling hold "an advisory
// lock in the store (row-level on the item)" — here the store is Redis
// rather than a DB row, which is equivalent for this purpose and is the
// library the teacher already depends on for cross-process coordination.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
	Prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		TTL:    30 * time.Second,
		Retry:  50 * time.Millisecond,
		Prefix: "lock:item:",
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()
	redisKey := r.Prefix + key
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := r.Retry
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		ok, err := r.Client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return r.unlockFunc(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// unlockFunc only deletes the key if it still holds our token, so a lock
// that expired and was re-acquired by someone else is never released out
// from under them.
func (r *Redis) unlockFunc(redisKey, token string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			cur, err := r.Client.Get(ctx, redisKey).Result()
			if err == nil && cur == token {
				_ = r.Client.Del(ctx, redisKey).Err()
			}
		})
	}
}

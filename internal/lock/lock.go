// Package lock provides cluster-wide mutual exclusion for the scheduler so
// at most one worker runs a tick at any instant.
package lock

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker is a non-blocking cluster lock. TryAcquire returns false without
// waiting when another holder owns the lock.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// lockID folds a string key into the signed 64-bit keyspace of Postgres
// advisory locks.
func lockID(key string) int64 {
	h := sha256.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// PostgresLock uses session-scoped advisory locks. The lock lives on the
// connection that acquired it, so acquire and release pin one connection.
// Safe for concurrent use: mu serializes acquire and release per instance.
type PostgresLock struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// NewPostgresLock creates an advisory-lock based Locker.
func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{
		db:    db,
		conns: make(map[string]*sql.Conn),
	}
}

// TryAcquire attempts pg_try_advisory_lock on a dedicated connection.
func (l *PostgresLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("lock key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.conns[key]; held {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID(key)).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conns[key] = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PostgresLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	conn, held := l.conns[key]
	if !held {
		return nil
	}
	delete(l.conns, key)

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID(key))
	closeErr := conn.Close()
	if err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock connection: %w", closeErr)
	}
	return nil
}

// releaseScript deletes the key only when the stored token matches, so a
// holder cannot release a lock that expired and was re-acquired elsewhere.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements the lock with SET NX PX plus a per-holder token.
// Safe for concurrent use: mu guards the token map.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLock creates a Redis-backed Locker. ttl bounds how long a crashed
// holder can block other workers.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		ttl:    ttl,
		tokens: make(map[string]string),
	}
}

// TryAcquire sets the key with NX and a fresh token.
func (l *RedisLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("lock key is required")
	}
	token := uuid.New().String()
	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire redis lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release deletes the key if this holder's token still owns it.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, held := l.tokens[key]
	if !held {
		l.mu.Unlock()
		return nil
	}
	delete(l.tokens, key)
	l.mu.Unlock()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release redis lock: %w", err)
	}
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrLockBusy = errors.New("ingestion already running")

// Locker guards one ingestion cycle. TryLock never waits: it returns
// ErrLockBusy when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}

// AdvisoryLocker is a session-level PostgreSQL advisory lock, so only one
// node of a deployment ingests at a time.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	key  int64
}

func NewAdvisoryLocker(pool *pgxpool.Pool, key int64) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, key: key}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLockBusy
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
			// the lock dies with the session
			_ = conn.Hijack().Close(ctx)
			return
		}
		conn.Release()
	}, nil
}

// LocalLocker serialises cycles inside one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) TryLock(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrLockBusy
	}
	return l.mu.Unlock, nil
}

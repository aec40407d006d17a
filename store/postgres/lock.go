package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// AdvisoryLocker serializes grouping replacements across service instances
// with session-level advisory locks. Each held lock pins one pool connection
// until released.
type AdvisoryLocker struct {
	db *sql.DB
}

func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key)
			conn.Close()
		})
	}, nil
}

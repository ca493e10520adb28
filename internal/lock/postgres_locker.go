package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker uses session-level advisory locks. The lease pins one pooled
// connection until Release; ttl is ignored because the lock dies with the
// session.
type PostgresLocker struct {
	db *pgxpool.Pool
}

func NewPostgresLocker(db *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, err
	}
	if !ok {
		conn.Release()
		return nil, ErrNotAcquired
	}
	return &postgresLease{conn: conn, key: key}, nil
}

type postgresLease struct {
	conn *pgxpool.Conn
	key  string
}

func (l *postgresLease) Release(ctx context.Context) error {
	defer l.conn.Release()
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key)
	return err
}

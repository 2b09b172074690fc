package workers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Advisory lock keys, one per worker class.
const (
	LockKeyDispatch int64 = 52001
	LockKeyReminder int64 = 52002
)

// PGRunLock serializes worker runs across instances with a Postgres
// advisory lock. The lock rides a dedicated pooled connection and is
// held until release is called.
type PGRunLock struct {
	db  *pgxpool.Pool
	key int64
}

func NewPGRunLock(db *pgxpool.Pool, key int64) *PGRunLock {
	return &PGRunLock{db: db, key: key}
}

func (l *PGRunLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		// Unlock on a fresh context so a cancelled run still releases.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
		conn.Release()
	}
	return release, true, nil
}

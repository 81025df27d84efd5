package leaderelection

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresLock is a session-scoped pg advisory lock. It must use a dedicated
// connection because the lock belongs to the session that took it.
type PostgresLock struct {
	db  *sql.DB
	key int64
}

func NewPostgresLock(db *sql.DB, key int64) *PostgresLock {
	return &PostgresLock{db: db, key: key}
}

func (l *PostgresLock) TryAcquire(ctx context.Context) (Session, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedicated connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock query: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, nil
	}
	return &pgSession{conn: conn, key: l.key}, nil
}

type pgSession struct {
	conn *sql.Conn
	key  int64
}

func (s *pgSession) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Release unlocks explicitly, then closes the connection. Closing alone
// would also release the lock once the session ends.
func (s *pgSession) Release() error {
	ctx := context.Background()
	if _, err := s.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", s.key); err != nil {
		s.conn.Close()
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return s.conn.Close()
}

// LocalLock always grants leadership. It serves single-instance deployments
// backed by the in-memory store.
type LocalLock struct{}

func (LocalLock) TryAcquire(ctx context.Context) (Session, error) {
	return localSession{}, nil
}

type localSession struct{}

func (localSession) Ping(ctx context.Context) error { return nil }
func (localSession) Release() error                 { return nil }

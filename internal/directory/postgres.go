package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultQuery resolves a handle against a user_entity table,
// by id when the handle is a UUID and by username otherwise.
const DefaultQuery = `SELECT email FROM user_entity WHERE (CASE WHEN $2 THEN id = $1 ELSE username = $1 END) LIMIT 1`

// querier is the subset of *pgxpool.Pool used by Postgres.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads addresses from a database. The query receives the handle
// as $1 and whether it is a UUID as $2 and must return one nullable text column.
type Postgres struct {
	db    querier
	query string
	pool  *pgxpool.Pool
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn, query string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := newPostgres(pool, query)
	p.pool = pool
	return p, nil
}

func newPostgres(db querier, query string) *Postgres {
	if query == "" {
		query = DefaultQuery
	}
	return &Postgres{db: db, query: query}
}

// EmailOf runs the lookup query for handle.
func (p *Postgres) EmailOf(ctx context.Context, handle string) (string, error) {
	var addr *string
	err := p.db.QueryRow(ctx, p.query, handle, isUUID(handle)).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%q: %w", handle, ErrUnknownUser)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up %q: %w", handle, err)
	}
	if addr == nil {
		return "", fmt.Errorf("%q: %w", handle, ErrNoEmail)
	}
	return nonEmpty(handle, *addr)
}

// Close releases the pool opened by Connect.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

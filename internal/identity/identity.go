// Package identity resolves which waiting-set user ids still
// correspond to real accounts — the one narrow query the core makes
// of the identity system, mirroring the original's
// AppUser.objects.filter(id__in=...) existence check.
package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog checks user ids against an `app_users` table.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog dials pool eagerly via a ping.
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("identity: ping: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (c *PostgresCatalog) Close() {
	c.pool.Close()
}

const selectExtant = `SELECT id FROM app_users WHERE id = ANY($1)`

// FilterExtant returns the subset of userIDs present in app_users.
// Order is not preserved.
func (c *PostgresCatalog) FilterExtant(ctx context.Context, userIDs []int64) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := c.pool.Query(ctx, selectExtant, userIDs)
	if err != nil {
		return nil, fmt.Errorf("identity: query: %w", err)
	}
	defer rows.Close()

	var extant []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("identity: scan: %w", err)
		}
		extant = append(extant, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: rows: %w", err)
	}
	return extant, nil
}

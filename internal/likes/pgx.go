package likes

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads likes from a `likes(user_from, user_to,
// like_count)` table. It is the one concrete Source the core ships;
// the table itself — and everything else about user/like storage — is
// owned by a system outside this module.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource dials pool eagerly via a ping so configuration
// errors surface at startup rather than on the first scheduled build.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("likes: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("likes: ping: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}

const selectAllLikes = `SELECT user_from, user_to, like_count FROM likes`

// LoadAllLikes streams the full likes table into memory. Order is
// whatever Postgres hands back; the EmbeddingBuilder makes no
// assumption about it.
func (s *PostgresSource) LoadAllLikes(ctx context.Context) ([]Edge, error) {
	rows, err := s.pool.Query(ctx, selectAllLikes)
	if err != nil {
		return nil, fmt.Errorf("likes: query: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.UserFrom, &e.UserTo, &e.LikeCount); err != nil {
			return nil, fmt.Errorf("likes: scan: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("likes: rows: %w", err)
	}
	return edges, nil
}

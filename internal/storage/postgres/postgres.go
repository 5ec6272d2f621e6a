package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS serp_results (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	term TEXT NOT NULL,
	page INTEGER NOT NULL,
	is_error BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL,
	organic_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	record JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS serp_results_term ON serp_results (term);
CREATE INDEX IF NOT EXISTS serp_results_created_at ON serp_results (created_at);
`

// New connects to dsn and creates the schema.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *serp.ResultRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	page := 0
	if rec.SearchQuery != nil {
		page = rec.SearchQuery.Page
	}

	query := `
	INSERT INTO serp_results (
		id, url, term, page, is_error, status_code, organic_count, created_at, record
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = b.pool.Exec(ctx, query,
		rec.ID,
		rec.URL,
		rec.Term(),
		page,
		rec.IsError,
		rec.Debug.StatusCode,
		len(rec.OrganicResults),
		rec.CreatedAt,
		data,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*serp.ResultRecord, error) {
	query := `SELECT record FROM serp_results WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Term != "" {
		query += fmt.Sprintf(` AND term = $%d`, paramCount)
		args = append(args, filter.Term)
		paramCount++
	}
	if filter.IsError != nil {
		query += fmt.Sprintf(` AND is_error = $%d`, paramCount)
		args = append(args, *filter.IsError)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []*serp.ResultRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		var r serp.ResultRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return results, nil
}

// Location names the database without credentials.
func (b *postgresBackend) Location() string {
	cfg := b.pool.Config().ConnConfig
	return fmt.Sprintf("postgres://%s:%d/%s (table serp_results)", cfg.Host, cfg.Port, cfg.Database)
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}

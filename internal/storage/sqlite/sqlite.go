package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db  *sql.DB
	dsn string
}

// The full record is kept as JSON; the other columns exist for filtering.
const schema = `
CREATE TABLE IF NOT EXISTS serp_results (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	term TEXT NOT NULL,
	page INTEGER NOT NULL,
	is_error BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL,
	organic_count INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS serp_results_term ON serp_results (term);
CREATE INDEX IF NOT EXISTS serp_results_created_at ON serp_results (created_at);
`

// New opens the SQLite database at dsn and creates the schema.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &sqliteBackend{db: db, dsn: dsn}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rec *serp.ResultRecord) error {
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
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		rec.ID,
		rec.URL,
		rec.Term(),
		page,
		rec.IsError,
		rec.Debug.StatusCode,
		len(rec.OrganicResults),
		rec.CreatedAt.UTC(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*serp.ResultRecord, error) {
	query := `SELECT record FROM serp_results WHERE 1=1`
	args := []any{}

	if filter.Term != "" {
		query += ` AND term = ?`
		args = append(args, filter.Term)
	}
	if filter.IsError != nil {
		query += ` AND is_error = ?`
		args = append(args, *filter.IsError)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []*serp.ResultRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		var r serp.ResultRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return results, nil
}

// Location returns the database file, without connection parameters.
func (b *sqliteBackend) Location() string {
	loc, _, _ := strings.Cut(strings.TrimPrefix(b.dsn, "file:"), "?")
	return "sqlite:" + loc
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

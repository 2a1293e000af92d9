package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the API does not start.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks files by ts_rank over the generated search_vector column.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := pageBounds(q)

	where := "f.search_vector @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.WorkspaceID != "" {
		where += " AND f.workspace_id = $2"
		args = append(args, q.WorkspaceID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM files f WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT f.id, f.workspace_id, f.type,
			ts_headline('simple', f.search_body, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM files f
		WHERE %s
		ORDER BY ts_rank(f.search_vector, plainto_tsquery('simple', $1)) DESC, f.id ASC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.FileID, &r.WorkspaceID, &r.Type, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every file for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FileRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT workspace_id, id, type, search_body FROM files`)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	records := make([]FileRecord, 0)
	for rows.Next() {
		var workspaceID, fileID, fileType, body string
		if err := rows.Scan(&workspaceID, &fileID, &fileType, &body); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		records = append(records, NewFileRecord(workspaceID, fileID, fileType, body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return records, nil
}

func pageBounds(q Query) (limit, offset int) {
	limit = q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

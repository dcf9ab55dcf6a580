package search

import (
	"context"
	"database/sql"
	"strings"
)

// PgNotes implements Searcher using PostgreSQL full-text search over the
// stored note sets. It is the fallback when Meilisearch is unavailable.
type PgNotes struct {
	db *sql.DB
}

// NewPgNotes creates a PostgreSQL notes searcher.
func NewPgNotes(db *sql.DB) *PgNotes {
	return &PgNotes{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgNotes) Healthy() bool {
	return true
}

// Search expands the user's note set and ranks matching notes with
// plainto_tsquery, using ts_headline for snippets.
func (p *PgNotes) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const matchSQL = `
		SELECT note->>'id' AS id,
			coalesce(note->>'title', '') AS title,
			ts_headline('english', note::text, tsq, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(to_tsvector('english', note::text), tsq) AS rank
		FROM note_sets ns,
			jsonb_array_elements(ns.notes) AS note,
			plainto_tsquery('english', $2) AS tsq
		WHERE ns.user_id = $1
			AND to_tsvector('english', note::text) @@ tsq`

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM (" + matchSQL + ") sub"
	if err := p.db.QueryRowContext(ctx, countSQL, q.UserID, q.Text).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := "SELECT id, title, snippet FROM (" + matchSQL + ") sub ORDER BY rank DESC LIMIT $3 OFFSET $4"
	rows, err := p.db.QueryContext(ctx, dataSQL, q.UserID, q.Text, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"strings"
)

// SearchFilter is a full-text query over titles and summaries.
type SearchFilter struct {
	Query    string
	Topic    string
	Language string
	Limit    int
}

// Search returns entries whose title or summary match every term of
// f.Query, best match first.
func (s *Store) Search(ctx context.Context, f SearchFilter) ([]*Entry, error) {
	match := ftsQuery(f.Query)
	if match == "" {
		return nil, nil
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}

	where, args := ListFilter{Topic: f.Topic, Language: f.Language}.clauses("e.")
	cond := " WHERE entries_fts MATCH ?"
	if where != "" {
		cond += " AND " + strings.TrimPrefix(where, " WHERE ")
	}
	args = append([]any{match}, args...)
	args = append(args, f.Limit)

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+prefixed("e.", entryColumns)+`
		FROM entries_fts JOIN entries e ON e.rowid = entries_fts.rowid`+cond+`
		ORDER BY entries_fts.rank LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanEntries(rows)
}

// ftsQuery quotes each whitespace-separated term so user input cannot use
// FTS5 operators.
func ftsQuery(q string) string {
	var terms []string
	for _, t := range strings.Fields(q) {
		terms = append(terms, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

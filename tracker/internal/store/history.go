// CLAUDE:SUMMARY HistoryStore operations: append, latest, range, weekly candidates, digest-this-week check, get, list, stats.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/docwatch/dbopen"
)

const entryColumns = `id, kind, topic, language, source, logged_at,
	commit_time, commit_url, range_start, range_end,
	title, summary, reasoning, importance, outcome,
	delivery_status, delivery_target, payload, error_detail,
	prompt_tokens, completion_tokens, total_tokens`

// Append inserts e. A missing ID or LoggedAt is filled in. Appending an ID
// that already exists is a no-op: entries never change after creation.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.LoggedAt == 0 {
		e.LoggedAt = s.now().UTC().UnixMilli()
	}
	if e.Kind == "" {
		e.Kind = KindCommit
	}
	if e.DeliveryStatus == "" {
		e.DeliveryStatus = DeliveryNotAttempted
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Kind, e.Topic, e.Language, e.Source, e.LoggedAt,
		e.CommitTime, e.CommitURL, e.RangeStart, e.RangeEnd,
		e.Title, e.Summary, e.Reasoning, e.Importance, e.Outcome,
		e.DeliveryStatus, e.DeliveryTarget, e.Payload, e.ErrorDetail,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Latest returns the commit entry with the greatest commit time for key,
// or nil if the key has no history. Digests are not considered.
func (s *Store) Latest(ctx context.Context, key Key) (*Entry, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		WHERE topic = ? AND language = ? AND source = ? AND kind = ?
		ORDER BY commit_time DESC, logged_at DESC LIMIT 1`,
		key.Topic, key.Language, key.Source, KindCommit)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// Range returns commit entries for key with start <= commit time < end,
// oldest first.
func (s *Store) Range(ctx context.Context, key Key, start, end time.Time) ([]*Entry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		WHERE topic = ? AND language = ? AND source = ? AND kind = ?
		AND commit_time >= ? AND commit_time < ?
		ORDER BY commit_time ASC, logged_at ASC`,
		key.Topic, key.Language, key.Source, KindCommit,
		start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: range: %w", err)
	}
	return scanEntries(rows)
}

// WeeklyCandidates returns last week's commit entries for key that were
// classified important and were delivered or had no delivery target.
// Placeholder entries (fetch or classification errors) are excluded, as
// are digests themselves.
func (s *Store) WeeklyCandidates(ctx context.Context, key Key) ([]*Entry, error) {
	start, end := LastWeek(s.now())
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		WHERE topic = ? AND language = ? AND source = ? AND kind = ?
		AND commit_time >= ? AND commit_time < ?
		AND importance = 1 AND outcome = ?
		AND delivery_status IN (?, ?)
		ORDER BY commit_time ASC, logged_at ASC`,
		key.Topic, key.Language, key.Source, KindCommit,
		start.UnixMilli(), end.UnixMilli(),
		OutcomePost, DeliveryDelivered, DeliveryNotAttempted)
	if err != nil {
		return nil, fmt.Errorf("store: weekly candidates: %w", err)
	}
	return scanEntries(rows)
}

// HasDigestThisWeek reports whether a digest entry (including a
// "nothing to report" marker) was logged for key during the current week.
func (s *Store) HasDigestThisWeek(ctx context.Context, key Key) (bool, error) {
	start, end := ThisWeek(s.now())
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries
		WHERE topic = ? AND language = ? AND source = ? AND kind = ?
		AND logged_at >= ? AND logged_at < ?`,
		key.Topic, key.Language, key.Source, KindDigest,
		start.UnixMilli(), end.UnixMilli()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: digest check: %w", err)
	}
	return n > 0, nil
}

// Get returns one entry by ID, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// List returns entries matching f, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	where, args := f.clauses("")
	args = append(args, f.Limit, f.Offset)
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries`+where+`
		ORDER BY logged_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return scanEntries(rows)
}

// Stats returns per-key counters, busiest first.
func (s *Store) Stats(ctx context.Context) ([]*TopicStats, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT topic, language, source,
			SUM(CASE WHEN kind = 'commit' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'commit' AND importance = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'digest' THEN 1 ELSE 0 END),
			MAX(commit_time)
		FROM entries
		GROUP BY topic, language, source
		ORDER BY COUNT(*) DESC, topic ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	var out []*TopicStats
	for rows.Next() {
		var ts TopicStats
		if err := rows.Scan(&ts.Topic, &ts.Language, &ts.Source,
			&ts.Entries, &ts.Important, &ts.Digests, &ts.LatestCommit); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, &ts)
	}
	return out, rows.Err()
}

// clauses builds the WHERE clause for f. prefix qualifies column names.
func (f ListFilter) clauses(prefix string) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, prefix+col+" = ?")
			args = append(args, val)
		}
	}
	add("topic", f.Topic)
	add("language", f.Language)
	add("kind", f.Kind)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Kind, &e.Topic, &e.Language, &e.Source, &e.LoggedAt,
		&e.CommitTime, &e.CommitURL, &e.RangeStart, &e.RangeEnd,
		&e.Title, &e.Summary, &e.Reasoning, &e.Importance, &e.Outcome,
		&e.DeliveryStatus, &e.DeliveryTarget, &e.Payload, &e.ErrorDetail,
		&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package store is the durable history of processed commits and weekly
// digests. Entries are only ever inserted; the latest commit timestamp per
// key is what later runs resume from.
package store

import (
	"database/sql"
	"time"

	"github.com/hazyhaar/docwatch/idgen"
)

// Store wraps the history database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock injects the clock used for logged_at and week boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, newID: idgen.Default, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

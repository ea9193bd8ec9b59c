// Package cursor resolves the instant after which commits of a topic are
// still unprocessed.
package cursor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

// Branch names which resolution rule produced a cursor.
type Branch int

const (
	BranchFresh    Branch = iota + 1 // neither source present: now
	BranchFallback                   // only the fallback file
	BranchStore                      // only the history store
	BranchMax                        // both: the larger one
)

func (b Branch) String() string {
	switch b {
	case BranchFresh:
		return "fresh"
	case BranchFallback:
		return "fallback"
	case BranchStore:
		return "store"
	case BranchMax:
		return "max"
	default:
		return "unknown"
	}
}

// Decide applies the resolution rules to the two candidate values. nil
// means absent. It has no side effects; see Resolver.Resolve for the
// fallback write on BranchFresh.
func Decide(stored, fallback *time.Time, now time.Time) (time.Time, Branch) {
	switch {
	case stored == nil && fallback == nil:
		return now.UTC().Truncate(time.Second), BranchFresh
	case stored == nil:
		return fallback.UTC(), BranchFallback
	case fallback == nil:
		return stored.UTC(), BranchStore
	case stored.After(*fallback):
		return stored.UTC(), BranchMax
	default:
		return fallback.UTC(), BranchMax
	}
}

// LatestFinder is the part of the history store the cursor reads.
type LatestFinder interface {
	Latest(ctx context.Context, key store.Key) (*store.Entry, error)
}

// Resolver combines the history store and the fallback file.
type Resolver struct {
	history  LatestFinder
	fallback *Fallback
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock injects the clock used on the fresh branch.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver. history may be nil (no store available).
func New(history LatestFinder, fallback *Fallback, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{history: history, fallback: fallback, now: time.Now, logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the cursor for key. Read failures on either source count
// as "absent" and are logged; Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context, key store.Key) time.Time {
	log := r.logger.With("topic", key.Topic, "language", key.Language)

	var stored *time.Time
	if r.history != nil {
		e, err := r.history.Latest(ctx, key)
		switch {
		case err != nil:
			log.Warn("cursor: history read failed, treating as empty", "error", err)
		case e != nil:
			t := time.UnixMilli(e.CommitTime).UTC()
			stored = &t
		}
	}

	var fallback *time.Time
	if r.fallback != nil {
		t, ok, err := r.fallback.Read()
		switch {
		case err != nil:
			log.Warn("cursor: fallback read failed, treating as empty", "error", err)
		case ok:
			fallback = &t
		}
	}

	at, branch := Decide(stored, fallback, r.now())
	switch branch {
	case BranchFresh:
		if r.fallback != nil {
			if err := r.fallback.Write(at); err != nil {
				log.Error("cursor: write fallback", "path", r.fallback.Path(), "error", err)
			}
		}
	case BranchMax:
		if !stored.After(*fallback) {
			log.Warn("cursor: store not newer than fallback, some commits may be skipped",
				"store", stored.Format(FileLayout), "fallback", fallback.Format(FileLayout))
		}
	}

	log.Debug("cursor: resolved", "branch", branch.String(), "cursor", at.Format(FileLayout))
	return at
}

package store

import (
	"context"
	"time"
)

// Discard is the history used when the database cannot be opened: writes
// are dropped and every read is empty.
type Discard struct{}

// Append drops e.
func (Discard) Append(context.Context, *Entry) error { return nil }

// Latest always reports no history.
func (Discard) Latest(context.Context, Key) (*Entry, error) { return nil, nil }

// Range is always empty.
func (Discard) Range(context.Context, Key, time.Time, time.Time) ([]*Entry, error) { return nil, nil }

// WeeklyCandidates is always empty.
func (Discard) WeeklyCandidates(context.Context, Key) ([]*Entry, error) { return nil, nil }

// HasDigestThisWeek always reports false.
func (Discard) HasDigestThisWeek(context.Context, Key) (bool, error) { return false, nil }

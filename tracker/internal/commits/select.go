package commits

import (
	"sort"
	"time"
)

// Select returns the commits strictly newer than cursor, oldest first, and
// the new cursor: the newest selected timestamp, or cursor itself when
// nothing was selected.
func Select(all map[time.Time]Ref, cursor time.Time) ([]Ref, time.Time) {
	var out []Ref
	next := cursor
	for at, ref := range all {
		if !at.After(cursor) {
			continue
		}
		ref.Time = at
		out = append(out, ref)
		if at.After(next) {
			next = at
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, next
}

// CLAUDE:SUMMARY Sentinel errors for the tracker service.
package tracker

import "errors"

var (
	// ErrInvalidConfig is returned by Config.Validate and LoadConfigFile.
	ErrInvalidConfig = errors.New("tracker: invalid config")
	// ErrUnknownTopic is returned by read methods for a topic not in the config.
	ErrUnknownTopic = errors.New("tracker: unknown topic")
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("tracker: entry not found")
	// ErrInvalidQuery is returned for malformed read API parameters.
	ErrInvalidQuery = errors.New("tracker: invalid query")
	// ErrNoHistory is returned by read methods when the history store is unavailable.
	ErrNoHistory = errors.New("tracker: history store unavailable")
)

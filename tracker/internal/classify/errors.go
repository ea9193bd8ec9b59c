package classify

import "errors"

var (
	// ErrUnparseable means the capability produced nothing usable: transport
	// failure, truncated output, malformed JSON or an empty analysis.
	ErrUnparseable = errors.New("classify: unparseable response")

	// ErrNoDigest means no entry qualified for a weekly digest.
	ErrNoDigest = errors.New("classify: nothing to digest")
)

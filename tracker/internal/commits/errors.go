package commits

import "errors"

// ErrFetchFailed is returned by FetchPatch when the commit could not be
// retrieved after all retries. It is distinct from an empty patch, which
// means no file of the commit falls under the topic sub-path.
var ErrFetchFailed = errors.New("commits: patch fetch failed")

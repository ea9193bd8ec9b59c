// CLAUDE:SUMMARY History data types: Entry (commit or weekly digest), Key, kinds, outcomes, delivery statuses.
package store

// Entry kinds.
const (
	KindCommit = "commit"
	KindDigest = "digest"
)

// Outcomes describe what the pipeline decided for an entry.
const (
	OutcomePost          = "post"           // classified important
	OutcomeSkip          = "skip"           // classified unimportant
	OutcomeNoChanges     = "no_changes"     // no file under the topic sub-path
	OutcomeFetchError    = "fetch_error"    // patch could not be fetched
	OutcomeClassifyError = "classify_error" // generated output unusable
	OutcomeDigest        = "digest"         // weekly digest produced
	OutcomeNoDigest      = "no_digest"      // weekly run found nothing worth a digest
)

// Delivery statuses.
const (
	DeliveryNotAttempted = "not_attempted"
	DeliveryDelivered    = "delivered"
	DeliveryFailed       = "failed"
)

// Key partitions history: one cursor and one digest per key.
type Key struct {
	Topic    string `json:"topic"`
	Language string `json:"language"`
	Source   string `json:"source"` // root commit-list URL
}

// Entry is one immutable history row. Timestamps are Unix milliseconds UTC.
type Entry struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Topic    string `json:"topic"`
	Language string `json:"language"`
	Source   string `json:"source"`
	LoggedAt int64  `json:"logged_at"`

	CommitTime int64  `json:"commit_time,omitempty"`
	CommitURL  string `json:"commit_url,omitempty"`
	RangeStart int64  `json:"range_start,omitempty"`
	RangeEnd   int64  `json:"range_end,omitempty"`

	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Reasoning  string `json:"reasoning,omitempty"`
	Importance int    `json:"importance"`
	Outcome    string `json:"outcome"`

	DeliveryStatus string `json:"delivery_status"`
	DeliveryTarget string `json:"delivery_target,omitempty"`
	Payload        string `json:"payload,omitempty"`
	ErrorDetail    string `json:"error_detail,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Key returns the partition the entry belongs to.
func (e *Entry) Key() Key {
	return Key{Topic: e.Topic, Language: e.Language, Source: e.Source}
}

// ListFilter selects entries for the read API. Empty fields match everything.
type ListFilter struct {
	Topic    string
	Language string
	Kind     string
	Limit    int
	Offset   int
}

// TopicStats summarises one key.
type TopicStats struct {
	Key
	Entries      int   `json:"entries"`
	Important    int   `json:"important"`
	Digests      int   `json:"digests"`
	LatestCommit int64 `json:"latest_commit,omitempty"`
}

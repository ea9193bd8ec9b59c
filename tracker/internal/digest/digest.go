// CLAUDE:SUMMARY WeeklyAggregator: once per week and key, folds last week's important entries into one digest notification.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docwatch/tracker/internal/classify"
	"github.com/hazyhaar/docwatch/tracker/internal/notify"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

// NoDigestMessage is recorded when a week had candidates but no digest
// came out of them.
const NoDigestMessage = "No important update last week"

// TimestampLayout formats the timestamp line of notifications.
const TimestampLayout = "2006-01-02 15:04:05"

// History is the part of the history store the aggregator needs.
type History interface {
	WeeklyCandidates(ctx context.Context, key store.Key) ([]*store.Entry, error)
	HasDigestThisWeek(ctx context.Context, key store.Key) (bool, error)
	Append(ctx context.Context, e *store.Entry) error
}

// Summarizer turns entries into a digest text.
type Summarizer interface {
	ClassifyAggregate(ctx context.Context, entries []*store.Entry, language, prompt string, maxInputTokens int) (*classify.Aggregate, error)
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification, target string) notify.Result
}

// Outcome is what one evaluation did.
type Outcome string

const (
	OutcomeAlreadyDone Outcome = "already_done" // digest or marker exists this week
	OutcomeEmpty       Outcome = "empty"        // no candidates, nothing recorded
	OutcomeNoDigest    Outcome = "no_digest"    // marker recorded
	OutcomeDispatched  Outcome = "dispatched"   // digest sent (or attempted) and recorded
)

// Config tunes the aggregator.
type Config struct {
	// RolloverDay is the day a new digest is due. The zero value is
	// time.Sunday; the tracker config defaults to Monday.
	RolloverDay time.Weekday
	// Window is how long after midnight UTC on RolloverDay the run counts as
	// the scheduled rollover. Defaults to two hours.
	Window time.Duration
	// Prompt is the weekly system prompt.
	Prompt string
	// MaxInputTokens bounds the aggregate prompt (default 30000).
	MaxInputTokens int
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 2 * time.Hour
	}
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = 30000
	}
}

// Topic is the per-topic context of a digest.
type Topic struct {
	Key       store.Key
	Target    string
	ShowTopic bool
	// HistoryURL is the action link of the digest card.
	HistoryURL string
}

// Aggregator is the WeeklyAggregator.
type Aggregator struct {
	history    History
	summarizer Summarizer
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock injects the clock.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Aggregator) { a.logger = l } }

// New creates an Aggregator.
func New(h History, s Summarizer, d Dispatcher, cfg Config, opts ...Option) *Aggregator {
	cfg.defaults()
	a := &Aggregator{
		history:    h,
		summarizer: s,
		dispatcher: d,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// InRolloverWindow reports whether t falls within Window after midnight UTC
// of the rollover day.
func (a *Aggregator) InRolloverWindow(t time.Time) bool {
	t = t.UTC()
	if t.Weekday() != a.cfg.RolloverDay {
		return false
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight) < a.cfg.Window
}

// Title is the digest title for the week before t.
func Title(t time.Time) string {
	start, end := store.LastWeek(t)
	return fmt.Sprintf("[Weekly Summary] %s ~ %s", start.Format("2006-01-02"), end.AddDate(0, 0, -1).Format("2006-01-02"))
}

// Run evaluates the trigger for one topic and, when due, produces at most
// one digest entry. A digest (or marker) already logged this week always
// wins over the rollover window, so repeated runs in the same week never
// dispatch twice.
func (a *Aggregator) Run(ctx context.Context, t Topic) (Outcome, error) {
	logger := a.logger.With("topic", t.Key.Topic, "language", t.Key.Language)
	now := a.now().UTC()

	has, err := a.history.HasDigestThisWeek(ctx, t.Key)
	if err != nil {
		return "", fmt.Errorf("digest: check this week: %w", err)
	}
	if has {
		return OutcomeAlreadyDone, nil
	}
	reason := "missing"
	if a.InRolloverWindow(now) {
		reason = "rollover"
	}

	candidates, err := a.history.WeeklyCandidates(ctx, t.Key)
	if err != nil {
		return "", fmt.Errorf("digest: weekly candidates: %w", err)
	}
	if len(candidates) == 0 {
		logger.Debug("digest: no candidates last week", "reason", reason)
		return OutcomeEmpty, nil
	}
	logger.Info("digest: building weekly digest", "reason", reason, "candidates", len(candidates))

	rangeStart, rangeEnd := store.LastWeek(now)
	entry := &store.Entry{
		Kind:       store.KindDigest,
		Topic:      t.Key.Topic,
		Language:   t.Key.Language,
		Source:     t.Key.Source,
		CommitURL:  t.HistoryURL,
		RangeStart: rangeStart.UnixMilli(),
		RangeEnd:   rangeEnd.UnixMilli(),
	}

	agg, err := a.summarizer.ClassifyAggregate(ctx, candidates, t.Key.Language, a.cfg.Prompt, a.cfg.MaxInputTokens)
	if agg != nil {
		entry.PromptTokens = agg.Usage.PromptTokens
		entry.CompletionTokens = agg.Usage.CompletionTokens
		entry.TotalTokens = agg.Usage.TotalTokens
	}
	switch {
	case errors.Is(err, classify.ErrNoDigest):
		entry.Outcome = store.OutcomeNoDigest
		entry.Title = Title(now)
		entry.Summary = NoDigestMessage
		entry.ErrorDetail = NoDigestMessage
		entry.DeliveryStatus = store.DeliveryNotAttempted
		if err := a.history.Append(ctx, entry); err != nil {
			return "", fmt.Errorf("digest: record marker: %w", err)
		}
		logger.Warn("digest: no important update last week")
		return OutcomeNoDigest, nil
	case err != nil:
		// Nothing recorded: the next run retries.
		return "", fmt.Errorf("digest: summarize: %w", err)
	}

	stamp := now.Format(TimestampLayout)
	if t.ShowTopic {
		stamp = t.Key.Topic + "\n\n" + stamp
	}
	n := notify.Notification{
		Title:     Title(now),
		Timestamp: stamp,
		Body:      agg.Text,
		CommitURL: t.HistoryURL,
	}
	res := a.dispatcher.Dispatch(ctx, n, t.Target)

	entry.Outcome = store.OutcomeDigest
	entry.Importance = 1
	entry.Title = n.Title
	entry.Summary = agg.Text
	entry.DeliveryStatus = res.Status
	entry.DeliveryTarget = t.Target
	entry.Payload = res.Payload
	if res.Err != nil {
		entry.ErrorDetail = res.Err.Error()
	}
	if err := a.history.Append(ctx, entry); err != nil {
		return OutcomeDispatched, fmt.Errorf("digest: record digest: %w", err)
	}
	logger.Info("digest: weekly digest recorded", "status", res.Status, "entries", agg.Included)
	return OutcomeDispatched, nil
}

// CLAUDE:SUMMARY Per-topic pipeline: cursor, commit list, selection, patch fetch, classification, dispatch, history append, weekly digest.
// CLAUDE:DEPENDS cursor, commits, classify, notify, store, digest
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/docwatch/tracker/internal/classify"
	"github.com/hazyhaar/docwatch/tracker/internal/commits"
	"github.com/hazyhaar/docwatch/tracker/internal/digest"
	"github.com/hazyhaar/docwatch/tracker/internal/llm"
	"github.com/hazyhaar/docwatch/tracker/internal/notify"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

// Placeholder texts recorded and sent when a commit cannot be summarised.
const (
	FetchErrorTitle      = "Error in Getting Patch Data"
	FetchErrorSummary    = "The changes of this commit could not be retrieved, it may be too large to process. Please check the update via the commit page button."
	ClassifyErrorTitle   = "Error in Getting Summary"
	ClassifyErrorSummary = "Something went wrong when generating the summary. Please check the update via the commit page button."
	NoChangesSummary     = "No file under the tracked path changed in this commit."
)

// CursorResolver returns the processing boundary for a key.
type CursorResolver interface {
	Resolve(ctx context.Context, key store.Key) time.Time
}

// CursorResolverFunc adapts a function to CursorResolver.
type CursorResolverFunc func(ctx context.Context, key store.Key) time.Time

// Resolve calls f.
func (f CursorResolverFunc) Resolve(ctx context.Context, key store.Key) time.Time { return f(ctx, key) }

// CommitSource lists commits and fetches patches.
type CommitSource interface {
	ListCommits(ctx context.Context, rootURL string) (map[time.Time]commits.Ref, error)
	FetchPatch(ctx context.Context, ref commits.Ref, pathFilter string, maxBytes int) (string, error)
}

// Classifier analyses one patch.
type Classifier interface {
	Classify(ctx context.Context, patch, language, prompt string) (*classify.Result, error)
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification, target string) notify.Result
}

// History records outcomes.
type History interface {
	Append(ctx context.Context, e *store.Entry) error
}

// WeeklyRunner is the weekly aggregator.
type WeeklyRunner interface {
	Run(ctx context.Context, t digest.Topic) (digest.Outcome, error)
}

// Observer receives pipeline events, for metrics.
type Observer interface {
	CommitProcessed(topic, outcome string)
	TokensUsed(kind string, u llm.Usage)
	DigestEvaluated(topic, outcome string)
	TopicFinished(topic string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) CommitProcessed(string, string)             {}
func (nopObserver) TokensUsed(string, llm.Usage)               {}
func (nopObserver) DigestEvaluated(string, string)             {}
func (nopObserver) TopicFinished(string, time.Duration, error) {}

// Topic is one tracked documentation area in one language.
type Topic struct {
	Name     string
	RootURL  string
	Language string
	// Target is a webhook URL or telegram://<chat_id>; empty records only.
	Target           string
	ShowTopicInTitle bool
}

// Key is the history partition of t.
func (t Topic) Key() store.Key {
	return store.Key{Topic: t.Name, Language: t.Language, Source: t.RootURL}
}

func (t Topic) digestTopic() digest.Topic {
	return digest.Topic{
		Key:        t.Key(),
		Target:     t.Target,
		ShowTopic:  t.ShowTopicInTitle,
		HistoryURL: commits.HistoryURL(t.RootURL),
	}
}

// Config tunes the pipeline.
type Config struct {
	// MaxPatchBytes truncates patches before classification (default 30000).
	MaxPatchBytes int
	// CommitPrompt is the per-commit system prompt.
	CommitPrompt string
}

func (c *Config) defaults() {
	if c.MaxPatchBytes <= 0 {
		c.MaxPatchBytes = 30000
	}
}

// Deps are the collaborators of a Pipeline. Weekly and Observer are optional.
type Deps struct {
	Cursor     CursorResolver
	Source     CommitSource
	Classifier Classifier
	Dispatcher Dispatcher
	History    History
	Weekly     WeeklyRunner
	Observer   Observer
	Logger     *slog.Logger
}

// Pipeline processes topics sequentially.
type Pipeline struct {
	d   Deps
	cfg Config
}

// New creates a Pipeline.
func New(d Deps, cfg Config) *Pipeline {
	cfg.defaults()
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	return &Pipeline{d: d, cfg: cfg}
}

// Report summarises one topic run.
type Report struct {
	Topic     string
	Listed    int
	Selected  int
	Notified  int
	Cursor    time.Time
	NewCursor time.Time
	Digest    digest.Outcome
}

// RunTopic processes the new commits of t in ascending commit order, then
// evaluates the weekly digest. A commit-list failure skips the commits but
// still evaluates the digest before it is returned; everything after the
// listing is recorded rather than returned.
func (p *Pipeline) RunTopic(ctx context.Context, t Topic) (*Report, error) {
	logger := p.d.Logger.With("topic", t.Name, "language", t.Language)
	rep := &Report{Topic: t.Name}

	rep.Cursor = p.d.Cursor.Resolve(ctx, t.Key())
	all, err := p.d.Source.ListCommits(ctx, t.RootURL)
	if err != nil {
		p.evaluateWeekly(ctx, logger, t, rep)
		return rep, fmt.Errorf("pipeline: list commits: %w", err)
	}
	rep.Listed = len(all)

	selected, newCursor := commits.Select(all, rep.Cursor)
	rep.Selected = len(selected)
	rep.NewCursor = newCursor
	logger.Info("pipeline: commits selected",
		"listed", rep.Listed,
		"selected", rep.Selected,
		"cursor", rep.Cursor.Format(digest.TimestampLayout))

	filter := commits.PathFilter(t.RootURL)
	for _, ref := range selected {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if p.processCommit(ctx, logger, t, filter, ref) {
			rep.Notified++
		}
	}

	p.evaluateWeekly(ctx, logger, t, rep)
	return rep, nil
}

func (p *Pipeline) evaluateWeekly(ctx context.Context, logger *slog.Logger, t Topic, rep *Report) {
	if p.d.Weekly == nil || ctx.Err() != nil {
		return
	}
	out, err := p.d.Weekly.Run(ctx, t.digestTopic())
	if err != nil {
		logger.Error("pipeline: weekly digest failed", "error", err)
		out = "error"
	}
	rep.Digest = out
	p.d.Observer.DigestEvaluated(t.Name, string(out))
}

// processCommit handles one commit end to end and reports whether a
// notification was dispatched.
func (p *Pipeline) processCommit(ctx context.Context, logger *slog.Logger, t Topic, filter string, ref commits.Ref) bool {
	logger = logger.With("commit", ref.WebURL)
	e := &store.Entry{
		Kind:       store.KindCommit,
		Topic:      t.Name,
		Language:   t.Language,
		Source:     t.RootURL,
		CommitTime: ref.Time.UnixMilli(),
		CommitURL:  ref.WebURL,
	}

	patch, err := p.d.Source.FetchPatch(ctx, ref, filter, p.cfg.MaxPatchBytes)
	switch {
	case err != nil:
		logger.Error("pipeline: patch fetch failed", "error", err)
		e.Title, e.Summary = FetchErrorTitle, FetchErrorSummary
		e.Importance = 1
		e.Outcome = store.OutcomeFetchError
		e.ErrorDetail = err.Error()

	case patch == "":
		logger.Info("pipeline: no change under tracked path")
		e.Summary = NoChangesSummary
		e.Outcome = store.OutcomeNoChanges

	default:
		res, err := p.d.Classifier.Classify(ctx, patch, t.Language, p.cfg.CommitPrompt)
		if res != nil {
			e.PromptTokens = res.Usage.PromptTokens
			e.CompletionTokens = res.Usage.CompletionTokens
			e.TotalTokens = res.Usage.TotalTokens
			p.d.Observer.TokensUsed("commit", res.Usage)
		}
		if err != nil {
			logger.Error("pipeline: classification failed", "error", err)
			e.Title, e.Summary = ClassifyErrorTitle, ClassifyErrorSummary
			e.Importance = 1
			e.Outcome = store.OutcomeClassifyError
			e.ErrorDetail = err.Error()
			break
		}
		e.Title, e.Summary, e.Reasoning = res.Title, res.Summary, res.Reasoning
		e.Importance = res.Importance
		e.Outcome = store.OutcomeSkip
		if res.Importance == 1 {
			e.Outcome = store.OutcomePost
		}
	}

	notified := false
	e.DeliveryStatus = store.DeliveryNotAttempted
	if e.Importance == 1 {
		stamp := ref.Time.UTC().Format(digest.TimestampLayout)
		if t.ShowTopicInTitle {
			stamp = t.Name + "\n\n" + stamp
		}
		res := p.d.Dispatcher.Dispatch(ctx, notify.Notification{
			Title:     e.Title,
			Timestamp: stamp,
			Body:      e.Summary,
			CommitURL: ref.WebURL,
		}, t.Target)
		e.DeliveryStatus = res.Status
		e.DeliveryTarget = t.Target
		e.Payload = res.Payload
		if res.Err != nil && e.ErrorDetail == "" {
			e.ErrorDetail = res.Err.Error()
		}
		notified = res.Status != store.DeliveryNotAttempted
	} else {
		logger.Info("pipeline: commit skipped", "title", e.Title, "outcome", e.Outcome)
	}

	if err := p.d.History.Append(ctx, e); err != nil {
		logger.Error("pipeline: record entry", "error", err)
	}
	p.d.Observer.CommitProcessed(t.Name, e.Outcome)
	return notified
}

// ErrPanic is returned by RunAll for a topic whose run panicked.
var ErrPanic = errors.New("pipeline: topic panicked")

// RunAll runs every topic in order. A topic's error or panic is logged and
// collected; the remaining topics still run.
func (p *Pipeline) RunAll(ctx context.Context, topics []Topic) []error {
	var errs []error
	for _, t := range topics {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		start := time.Now()
		_, err := p.runSafe(ctx, t)
		p.d.Observer.TopicFinished(t.Name, time.Since(start), err)
		if err != nil {
			p.d.Logger.Error("pipeline: topic failed", "topic", t.Name, "language", t.Language, "error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", t.Name, t.Language, err))
		}
	}
	return errs
}

func (p *Pipeline) runSafe(ctx context.Context, t Topic) (rep *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.d.Logger.Error("pipeline: panic recovered",
				"topic", t.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return p.RunTopic(ctx, t)
}

// RunDigests evaluates only the weekly digest of every topic.
func (p *Pipeline) RunDigests(ctx context.Context, topics []Topic) []error {
	if p.d.Weekly == nil {
		return nil
	}
	var errs []error
	for _, t := range topics {
		out, err := p.d.Weekly.Run(ctx, t.digestTopic())
		if err != nil {
			p.d.Logger.Error("pipeline: weekly digest failed", "topic", t.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", t.Name, t.Language, err))
			continue
		}
		p.d.Observer.DigestEvaluated(t.Name, string(out))
		p.d.Logger.Info("pipeline: weekly digest evaluated", "topic", t.Name, "outcome", out)
	}
	return errs
}

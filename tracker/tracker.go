// CLAUDE:SUMMARY Service wiring: history store, cursor, GitHub source, LLM backend, classifier, dispatcher, digest, pipeline, scheduler, metrics, read methods.
// CLAUDE:DEPENDS tracker/internal/*, dbopen, horosafe, connectivity
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/docwatch/connectivity"
	"github.com/hazyhaar/docwatch/dbopen"
	"github.com/hazyhaar/docwatch/horosafe"
	"github.com/hazyhaar/docwatch/idgen"
	"github.com/hazyhaar/docwatch/tracker/internal/classify"
	"github.com/hazyhaar/docwatch/tracker/internal/commits"
	"github.com/hazyhaar/docwatch/tracker/internal/cursor"
	"github.com/hazyhaar/docwatch/tracker/internal/digest"
	"github.com/hazyhaar/docwatch/tracker/internal/llm"
	"github.com/hazyhaar/docwatch/tracker/internal/metrics"
	"github.com/hazyhaar/docwatch/tracker/internal/notify"
	"github.com/hazyhaar/docwatch/tracker/internal/pipeline"
	"github.com/hazyhaar/docwatch/tracker/internal/scheduler"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

// history is what the pipeline, digest and cursor need from the store.
type history interface {
	Append(ctx context.Context, e *store.Entry) error
	Latest(ctx context.Context, key store.Key) (*store.Entry, error)
	WeeklyCandidates(ctx context.Context, key store.Key) ([]*store.Entry, error)
	HasDigestThisWeek(ctx context.Context, key store.Key) (bool, error)
}

// Service is the documentation change tracker.
type Service struct {
	cfg     *Config
	logger  *slog.Logger
	topics  []pipeline.Topic
	metrics *metrics.Metrics

	db      *sql.DB      // nil without history
	store   *store.Store // nil without history
	history history

	pipeline *pipeline.Pipeline // nil in read-only mode
	sched    *scheduler.Scheduler

	// options
	gen      llm.Generator
	client   *http.Client
	now      func() time.Time
	validate func(string) error
	readOnly bool
	ownsDB   bool
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithGenerator replaces the configured LLM backend.
func WithGenerator(g llm.Generator) ServiceOption { return func(s *Service) { s.gen = g } }

// WithHTTPClient sets the client used for GitHub, webhooks, Telegram and
// the OpenAI-compatible backend.
func WithHTTPClient(c *http.Client) ServiceOption { return func(s *Service) { s.client = c } }

// WithClock injects the clock for the cursor, history and weekly digest.
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithDB uses an already-opened history database instead of cfg.Database.
// The caller keeps ownership of db.
func WithDB(db *sql.DB) ServiceOption { return func(s *Service) { s.db = db } }

// WithWebhookValidator replaces horosafe.ValidateURL for webhook targets.
func WithWebhookValidator(fn func(string) error) ServiceOption {
	return func(s *Service) { s.validate = fn }
}

// ReadOnly builds only the read side: no LLM backend, no pipeline. Used by
// the serve, mcp and history commands.
func ReadOnly() ServiceOption { return func(s *Service) { s.readOnly = true } }

// New creates a Service from cfg. A history database that cannot be opened
// is logged and the service runs without history.
func New(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		cfg:      cfg,
		logger:   logger,
		topics:   cfg.pipelineTopics(),
		metrics:  metrics.New(),
		client:   &http.Client{},
		now:      time.Now,
		validate: horosafe.ValidateURL,
	}
	for _, o := range opts {
		o(svc)
	}

	svc.openHistory()
	if svc.readOnly {
		return svc, nil
	}

	if svc.gen == nil {
		gen, err := newGenerator(ctx, cfg.LLM, svc.client, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.gen = gen
	}
	if err := svc.build(); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) openHistory() {
	s.history = store.Discard{}
	if s.db == nil && s.cfg.Database != "" {
		db, err := dbopen.Open(s.cfg.Database, dbopen.WithMkdirAll())
		if err != nil {
			s.logger.Error("tracker: history unavailable, running without history", "path", s.cfg.Database, "error", err)
			return
		}
		s.db = db
		s.ownsDB = true
	}
	if s.db == nil {
		s.logger.Warn("tracker: no history database configured")
		return
	}
	if err := store.ApplySchema(s.db); err != nil {
		s.logger.Error("tracker: history schema failed, running without history", "error", err)
		if s.ownsDB {
			s.db.Close()
		}
		s.db = nil
		return
	}
	s.store = store.NewStore(s.db, store.WithClock(s.now))
	s.history = s.store
}

func (s *Service) build() error {
	cfg := s.cfg
	logger := s.logger

	rollover, err := cfg.Weekly.weekday()
	if err != nil {
		return err
	}

	source := commits.NewSource(commits.Config{
		Token:            cfg.GitHub.Token,
		Timeout:          cfg.GitHub.Timeout,
		Retry:            connectivity.RetryPolicy{Attempts: cfg.GitHub.RetryAttempts, Delay: cfg.GitHub.RetryDelay},
		BreakerThreshold: cfg.GitHub.BreakerThreshold,
		BreakerReset:     cfg.GitHub.BreakerReset,
	}, logger, commits.WithHTTPClient(s.client))

	classifier := classify.New(s.gen, classify.Config{
		MaxTokens:       cfg.LLM.MaxTokens,
		WeeklyMaxTokens: cfg.LLM.WeeklyMaxTokens,
		LinkMapping:     cfg.LinkMapping,
	},
		classify.WithLogger(logger),
		classify.WithTokenizer(classify.NewTokenizer(cfg.LLM.Encoding, logger)),
	)

	dispatchOpts := []notify.Option{
		notify.WithTeams(notify.NewTeamsSender(s.client, s.validate)),
		notify.WithLogger(logger),
		notify.WithObserver(s.metrics.Notified),
	}
	if cfg.Telegram.Token != "" {
		dispatchOpts = append(dispatchOpts, notify.WithTelegram(notify.NewTelegramSender(notify.TelegramConfig{
			Token:       cfg.Telegram.Token,
			APIEndpoint: cfg.Telegram.APIEndpoint,
		}, s.client)))
	}
	dispatcher := notify.NewDispatcher(dispatchOpts...)

	var weekly pipeline.WeeklyRunner
	if cfg.Weekly.On() {
		weekly = digest.New(s.history, &meteredSummarizer{classifier, s.metrics}, dispatcher, digest.Config{
			RolloverDay:    rollover,
			Window:         cfg.Weekly.Window,
			Prompt:         cfg.Prompts.Weekly,
			MaxInputTokens: cfg.LLM.MaxInputTokens,
		}, digest.WithClock(s.now), digest.WithLogger(logger))
	}

	var latest cursor.LatestFinder
	if s.store != nil {
		latest = s.store
	}
	resolver := cursor.New(latest, cursor.NewFallback(cfg.FallbackFile), logger, cursor.WithClock(s.now))

	s.pipeline = pipeline.New(pipeline.Deps{
		Cursor:     resolver,
		Source:     source,
		Classifier: classifier,
		Dispatcher: dispatcher,
		History:    s.history,
		Weekly:     weekly,
		Observer:   s.metrics,
		Logger:     logger,
	}, pipeline.Config{
		MaxPatchBytes: cfg.GitHub.MaxPatchBytes,
		CommitPrompt:  cfg.Prompts.Commit,
	})

	s.sched, err = scheduler.New(cfg.PollSchedule, s.RunOnce, scheduler.WithLogger(logger))
	return err
}

// newGenerator builds the configured text-generation backend.
func newGenerator(ctx context.Context, c LLMConfig, client *http.Client, logger *slog.Logger) (llm.Generator, error) {
	var (
		gen llm.Generator
		err error
	)
	switch c.Provider {
	case ProviderGemini:
		gen, err = llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
			APIKey:  c.APIKey,
			Model:   c.Model,
			BaseURL: c.Endpoint,
		})
	default:
		gen, err = llm.NewChatGenerator(llm.ChatConfig{
			Endpoint:   c.Endpoint,
			APIKey:     c.APIKey,
			Model:      c.Model,
			Azure:      c.Provider == ProviderAzure,
			APIVersion: c.APIVersion,
			Timeout:    c.Timeout,
		}, client, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: llm: %v", ErrInvalidConfig, err)
	}
	return gen, nil
}

// meteredSummarizer counts weekly digest tokens.
type meteredSummarizer struct {
	*classify.Classifier
	m *metrics.Metrics
}

func (ms *meteredSummarizer) ClassifyAggregate(ctx context.Context, entries []*store.Entry, language, prompt string, maxInputTokens int) (*classify.Aggregate, error) {
	agg, err := ms.Classifier.ClassifyAggregate(ctx, entries, language, prompt, maxInputTokens)
	if agg != nil {
		ms.m.TokensUsed("weekly", agg.Usage)
	}
	return agg, err
}

// Close releases the history database when the service opened it.
func (s *Service) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.cfg }

// Metrics returns the Prometheus collectors of the service.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// ErrReadOnly is returned by pipeline methods on a ReadOnly service.
var ErrReadOnly = errors.New("tracker: service is read-only")

// RunOnce processes every topic once. Per-topic failures are logged and
// joined into the returned error; they never stop the other topics.
func (s *Service) RunOnce(ctx context.Context) error {
	if s.pipeline == nil {
		return ErrReadOnly
	}
	errs := s.pipeline.RunAll(ctx, s.topics)
	s.metrics.IterationDone(s.now())
	return errors.Join(errs...)
}

// RunDigests evaluates the weekly digest of every topic now.
func (s *Service) RunDigests(ctx context.Context) error {
	if s.pipeline == nil {
		return ErrReadOnly
	}
	return errors.Join(s.pipeline.RunDigests(ctx, s.topics)...)
}

// Run processes every topic immediately and then on each scheduled slot
// until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return ErrReadOnly
	}
	s.logger.Info("tracker: started", "topics", len(s.topics), "schedule", s.cfg.PollSchedule)
	return s.sched.Run(ctx)
}

// UpdatesQuery selects entries for Updates.
type UpdatesQuery struct {
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`
	// Type is "single" (commits), "weekly" (digests) or empty for both.
	Type  string `json:"type,omitempty"`
	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// MaxPageSize bounds UpdatesQuery.Limit.
const MaxPageSize = 100

func (q *UpdatesQuery) filter() (store.ListFilter, error) {
	f := store.ListFilter{Topic: q.Topic, Language: q.Language}
	switch q.Type {
	case "", "all":
	case "single":
		f.Kind = store.KindCommit
	case "weekly":
		f.Kind = store.KindDigest
	default:
		return f, fmt.Errorf("%w: unknown update type %q", ErrInvalidQuery, q.Type)
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	f.Limit = q.Limit
	f.Offset = (q.Page - 1) * q.Limit
	return f, nil
}

func (s *Service) knownTopic(name string) error {
	if name == "" {
		return nil
	}
	for _, t := range s.topics {
		if t.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTopic, name)
}

// Updates lists recorded entries, newest first.
func (s *Service) Updates(ctx context.Context, q UpdatesQuery) ([]*store.Entry, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	if err := s.knownTopic(q.Topic); err != nil {
		return nil, err
	}
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, f)
}

// Search runs a full-text query over titles and summaries.
func (s *Service) Search(ctx context.Context, f store.SearchFilter) ([]*store.Entry, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	if err := s.knownTopic(f.Topic); err != nil {
		return nil, err
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return s.store.Search(ctx, f)
}

// Get returns one entry by ID.
func (s *Service) Get(ctx context.Context, id string) (*store.Entry, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	id, err := idgen.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// TopicInfo describes one configured topic and its history counters.
type TopicInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Source   string `json:"source"`
	// Channel is where notifications go: teams, telegram or none.
	Channel      string `json:"channel"`
	Entries      int    `json:"entries"`
	Important    int    `json:"important"`
	Digests      int    `json:"digests"`
	LatestCommit int64  `json:"latest_commit,omitempty"`
}

// Topics lists the configured topics in config order. Delivery targets are
// not exposed, only their channel.
func (s *Service) Topics(ctx context.Context) ([]TopicInfo, error) {
	stats := map[store.Key]*store.TopicStats{}
	if s.store != nil {
		all, err := s.store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		for _, ts := range all {
			stats[ts.Key] = ts
		}
	}

	out := make([]TopicInfo, 0, len(s.topics))
	for _, t := range s.topics {
		info := TopicInfo{
			Name:     t.Name,
			Language: t.Language,
			Source:   t.RootURL,
			Channel:  channelOf(t.Target),
		}
		if ts, ok := stats[t.Key()]; ok {
			info.Entries = ts.Entries
			info.Important = ts.Important
			info.Digests = ts.Digests
			info.LatestCommit = ts.LatestCommit
		}
		out = append(out, info)
	}
	return out, nil
}

func channelOf(target string) string {
	switch {
	case target == "":
		return notify.ChannelNone
	case strings.HasPrefix(target, "telegram://"):
		return notify.ChannelTelegram
	default:
		return notify.ChannelTeams
	}
}

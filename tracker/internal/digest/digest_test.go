package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docwatch/dbopen"
	"github.com/hazyhaar/docwatch/idgen"
	"github.com/hazyhaar/docwatch/tracker/internal/classify"
	"github.com/hazyhaar/docwatch/tracker/internal/llm"
	"github.com/hazyhaar/docwatch/tracker/internal/notify"
	"github.com/hazyhaar/docwatch/tracker/internal/store"

	_ "modernc.org/sqlite"
)

var key = store.Key{Topic: "Fabric", Language: "English", Source: "https://api.github.com/repos/o/r/commits?path=docs"}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fakeSummarizer struct {
	calls int
	text  string
	err   error
}

func (f *fakeSummarizer) ClassifyAggregate(_ context.Context, entries []*store.Entry, _, _ string, _ int) (*classify.Aggregate, error) {
	f.calls++
	if f.err != nil {
		return &classify.Aggregate{}, f.err
	}
	return &classify.Aggregate{Text: f.text, Included: len(entries), Usage: llm.Usage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60}}, nil
}

type fakeDispatcher struct {
	sent []notify.Notification
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n notify.Notification, target string) notify.Result {
	f.sent = append(f.sent, n)
	if target == "" {
		return notify.Result{Status: store.DeliveryNotAttempted, Payload: `{"title":"` + n.Title + `"}`}
	}
	return notify.Result{Status: store.DeliveryDelivered, Payload: "card"}
}

type fixture struct {
	clock *clock
	store *store.Store
	sum   *fakeSummarizer
	disp  *fakeDispatcher
	agg   *Aggregator
}

// Monday 2026-03-16 01:00 UTC, inside the default rollover window.
var monday = time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	c := &clock{t: monday}
	st := store.NewStore(db, store.WithIDGenerator(idgen.Sequence("e")), store.WithClock(c.now))
	f := &fixture{clock: c, store: st, sum: &fakeSummarizer{text: "1. New quotas"}, disp: &fakeDispatcher{}}
	f.agg = New(st, f.sum, f.disp,
		Config{RolloverDay: time.Monday, Prompt: "Digest."},
		WithClock(c.now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return f
}

func (f *fixture) seedLastWeek(t *testing.T, importance int) {
	t.Helper()
	e := &store.Entry{
		Topic: key.Topic, Language: key.Language, Source: key.Source,
		CommitTime:     time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC).UnixMilli(),
		Title:          "New quotas",
		Summary:        "Quota page added.",
		Importance:     importance,
		Outcome:        store.OutcomePost,
		DeliveryStatus: store.DeliveryDelivered,
	}
	if importance == 0 {
		e.Outcome = store.OutcomeSkip
	}
	if err := f.store.Append(context.Background(), e); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

var topic = Topic{Key: key, Target: "https://hooks.example.com/x", HistoryURL: "https://github.com/o/r/commits/main/docs"}

func TestTitle(t *testing.T) {
	got := Title(time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC))
	if want := "[Weekly Summary] 2026-03-02 ~ 2026-03-08"; got != want {
		t.Errorf("Title: got %q, want %q", got, want)
	}
}

func TestInRolloverWindow(t *testing.T) {
	f := newFixture(t)
	cases := map[time.Time]bool{
		monday:                       true,
		monday.Add(59 * time.Minute): true,
		monday.Add(time.Hour):        false,
		monday.AddDate(0, 0, 1):      false,
	}
	for at, want := range cases {
		if got := f.agg.InRolloverWindow(at); got != want {
			t.Errorf("InRolloverWindow(%s): got %v, want %v", at, got, want)
		}
	}
}

func TestRun_DispatchesOncePerWeek(t *testing.T) {
	// WHAT: the second run in the same week sees the recorded digest and does nothing.
	// WHY: at most one digest per key and calendar week.
	f := newFixture(t)
	f.seedLastWeek(t, 1)
	ctx := context.Background()

	out, err := f.agg.Run(ctx, topic)
	if err != nil || out != OutcomeDispatched {
		t.Fatalf("first run: got %s %v", out, err)
	}
	f.clock.t = monday.Add(2 * time.Hour)
	out, err = f.agg.Run(ctx, topic)
	if err != nil || out != OutcomeAlreadyDone {
		t.Fatalf("second run: got %s %v", out, err)
	}
	f.clock.t = monday.AddDate(0, 0, 3)
	if out, _ = f.agg.Run(ctx, topic); out != OutcomeAlreadyDone {
		t.Errorf("later in week: got %s", out)
	}

	if len(f.disp.sent) != 1 || f.sum.calls != 1 {
		t.Fatalf("dispatches/summaries: got %d/%d, want 1/1", len(f.disp.sent), f.sum.calls)
	}
	n := f.disp.sent[0]
	if n.Title != "[Weekly Summary] 2026-03-09 ~ 2026-03-15" {
		t.Errorf("title: got %q", n.Title)
	}
	if n.CommitURL != topic.HistoryURL || n.Body != "1. New quotas" {
		t.Errorf("notification: got %+v", n)
	}

	entries, err := f.store.List(ctx, store.ListFilter{Kind: store.KindDigest})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("digest entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Outcome != store.OutcomeDigest || e.DeliveryStatus != store.DeliveryDelivered || e.TotalTokens != 60 {
		t.Errorf("entry: got %+v", e)
	}
	if e.RangeStart != time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf("range start: got %d", e.RangeStart)
	}
}

func TestRun_CatchUpOutsideWindow(t *testing.T) {
	// WHAT: a week with no digest yet gets one even after the rollover window.
	// WHY: a process that was down on Monday still produces the digest.
	f := newFixture(t)
	f.seedLastWeek(t, 1)
	f.clock.t = monday.AddDate(0, 0, 2)

	out, err := f.agg.Run(context.Background(), topic)
	if err != nil || out != OutcomeDispatched {
		t.Fatalf("Run: got %s %v", out, err)
	}
}

func TestRun_NoCandidates(t *testing.T) {
	f := newFixture(t)
	out, err := f.agg.Run(context.Background(), topic)
	if err != nil || out != OutcomeEmpty {
		t.Fatalf("Run: got %s %v", out, err)
	}
	if f.sum.calls != 0 || len(f.disp.sent) != 0 {
		t.Error("empty week must not summarize or dispatch")
	}
	if has, _ := f.store.HasDigestThisWeek(context.Background(), key); has {
		t.Error("empty week must not record anything")
	}
}

func TestRun_NoDigestRecordsMarker(t *testing.T) {
	f := newFixture(t)
	f.seedLastWeek(t, 1)
	f.sum.err = classify.ErrNoDigest
	ctx := context.Background()

	out, err := f.agg.Run(ctx, topic)
	if err != nil || out != OutcomeNoDigest {
		t.Fatalf("Run: got %s %v", out, err)
	}
	if len(f.disp.sent) != 0 {
		t.Error("marker must not be dispatched")
	}
	entries, _ := f.store.List(ctx, store.ListFilter{Kind: store.KindDigest})
	if len(entries) != 1 || entries[0].Outcome != store.OutcomeNoDigest || entries[0].Summary != NoDigestMessage {
		t.Fatalf("marker: got %+v", entries)
	}
	if want := Title(f.clock.t); entries[0].Title != want {
		t.Errorf("marker title: got %q, want %q", entries[0].Title, want)
	}
	if out, _ := f.agg.Run(ctx, topic); out != OutcomeAlreadyDone {
		t.Errorf("after marker: got %s, want already_done", out)
	}
}

func TestRun_SummarizerFailureRetriesLater(t *testing.T) {
	f := newFixture(t)
	f.seedLastWeek(t, 1)
	f.sum.err = errors.New("llm down")

	if _, err := f.agg.Run(context.Background(), topic); err == nil || !strings.Contains(err.Error(), "llm down") {
		t.Fatalf("Run: got %v", err)
	}
	if has, _ := f.store.HasDigestThisWeek(context.Background(), key); has {
		t.Error("failed summary must leave the week open")
	}
	f.sum.err = nil
	if out, err := f.agg.Run(context.Background(), topic); err != nil || out != OutcomeDispatched {
		t.Errorf("retry: got %s %v", out, err)
	}
}

func TestRun_ShowTopicAndNoTarget(t *testing.T) {
	f := newFixture(t)
	f.seedLastWeek(t, 1)
	tp := topic
	tp.Target = ""
	tp.ShowTopic = true

	if _, err := f.agg.Run(context.Background(), tp); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.disp.sent[0].Timestamp; !strings.HasPrefix(got, "Fabric\n\n2026-03-16") {
		t.Errorf("timestamp: got %q", got)
	}
	entries, _ := f.store.List(context.Background(), store.ListFilter{Kind: store.KindDigest})
	if entries[0].DeliveryStatus != store.DeliveryNotAttempted {
		t.Errorf("status: got %s", entries[0].DeliveryStatus)
	}
}

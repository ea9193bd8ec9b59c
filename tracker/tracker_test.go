package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docwatch/dbopen"
	"github.com/hazyhaar/docwatch/tracker/internal/classify"
	"github.com/hazyhaar/docwatch/tracker/internal/cursor"
	"github.com/hazyhaar/docwatch/tracker/internal/llm"
	"github.com/hazyhaar/docwatch/tracker/internal/store"

	_ "modernc.org/sqlite"
)

var (
	testNow = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC) // Wednesday
	t0      = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	t1      = t0.Add(time.Hour)
	t2      = t0.Add(2 * time.Hour)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGitHub serves one commit list with two commits under docs/.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/o/r/commits":
			fmt.Fprintf(w, `[
				{"url": %q, "commit": {"author": {"date": %q}}},
				{"url": %q, "html_url": "https://github.com/o/r/commit/bbb", "commit": {"author": {"date": %q}}}
			]`, srv.URL+"/repos/o/r/commits/aaa", t1.Format(time.RFC3339),
				srv.URL+"/repos/o/r/commits/bbb", t2.Format(time.RFC3339))
		case "/repos/o/r/commits/aaa":
			fmt.Fprint(w, `{"files":[{"filename":"docs/guide.md","patch":"+added X"}]}`)
		case "/repos/o/r/commits/bbb":
			fmt.Fprint(w, `{"files":[{"filename":"docs/guide.md","patch":"-teh\n+the (fixed typo)"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type webhook struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
}

func fakeWebhook(t *testing.T) *webhook {
	t.Helper()
	wh := &webhook{}
	wh.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		wh.mu.Lock()
		wh.bodies = append(wh.bodies, string(b))
		wh.mu.Unlock()
		w.Write([]byte("1"))
	}))
	t.Cleanup(wh.Close)
	return wh
}

func (wh *webhook) posts() []string {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	return append([]string(nil), wh.bodies...)
}

// scriptedLLM marks patches containing "added" as important.
func scriptedLLM(calls *int) llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		*calls++
		user := req.Messages[len(req.Messages)-1].Content
		a := map[string]any{
			"summary":                    "Fixed a typo in docs/guide.md",
			"title":                      "0 Typo fix",
			"importance_score":           0,
			"importance_score_reasoning": "cosmetic",
		}
		if strings.Contains(user, "added X") {
			a = map[string]any{
				"summary":                    "Added X to the guide",
				"title":                      "1 X is documented",
				"importance_score":           1,
				"importance_score_reasoning": "new content",
			}
		}
		raw, _ := json.Marshal(a)
		return &llm.Response{
			Text:  string(raw),
			Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	})
}

type fixture struct {
	svc     *Service
	webhook *webhook
	llm     *int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gh := fakeGitHub(t)
	wh := fakeWebhook(t)

	dir := t.TempDir()
	fallback := filepath.Join(dir, "last_crawl_time.txt")
	if err := cursor.NewFallback(fallback).Write(t0); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{
		FallbackFile: fallback,
		LLM:          LLMConfig{Encoding: classify.HeuristicEncoding},
		Topics: []TopicConfig{{
			Name:           "Fabric",
			RootCommitsURL: gh.URL + "/repos/o/r/commits?path=docs",
			Language:       "English",
			WebhookURL:     wh.URL,
		}},
	}

	calls := 0
	svc, err := New(context.Background(), cfg, quietLogger(),
		WithDB(dbopen.OpenMemory(t)),
		WithGenerator(scriptedLLM(&calls)),
		WithClock(func() time.Time { return testNow }),
		WithWebhookValidator(func(string) error { return nil }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return &fixture{svc: svc, webhook: wh, llm: &calls}
}

func TestRunOnce_EndToEnd(t *testing.T) {
	// WHAT: two new commits, one important, produce one Teams card and two entries.
	// WHY: this is the whole polling path wired through real HTTP collaborators.
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	posts := f.webhook.posts()
	if len(posts) != 1 {
		t.Fatalf("webhook posts: got %d, want 1", len(posts))
	}
	if !strings.Contains(posts[0], "X is documented") || !strings.Contains(posts[0], "/repos/o/r/commit/aaa") {
		t.Errorf("card: got %s", posts[0])
	}

	entries, err := f.svc.Updates(ctx, UpdatesQuery{Type: "single"})
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	byOutcome := map[string]*store.Entry{}
	for _, e := range entries {
		byOutcome[e.Outcome] = e
	}
	post, skip := byOutcome[store.OutcomePost], byOutcome[store.OutcomeSkip]
	if post == nil || skip == nil {
		t.Fatalf("outcomes: got %v", byOutcome)
	}
	if post.DeliveryStatus != store.DeliveryDelivered || post.CommitTime != t1.UnixMilli() {
		t.Errorf("post entry: got %+v", post)
	}
	if skip.DeliveryStatus != store.DeliveryNotAttempted || skip.CommitURL != "https://github.com/o/r/commit/bbb" {
		t.Errorf("skip entry: got %+v", skip)
	}
	if *f.llm != 2 {
		t.Errorf("llm calls: got %d, want 2 (no weekly candidates)", *f.llm)
	}
}

func TestRunOnce_SecondRunIsIdempotent(t *testing.T) {
	// WHAT: a second iteration resumes from the stored cursor and does nothing.
	// WHY: restarts and re-runs must not notify twice.
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.svc.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}
	if n := len(f.webhook.posts()); n != 1 {
		t.Errorf("webhook posts: got %d, want 1", n)
	}
	entries, _ := f.svc.Updates(ctx, UpdatesQuery{})
	if len(entries) != 2 {
		t.Errorf("entries: got %d, want 2", len(entries))
	}
}

func TestReadMethods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	topics, err := f.svc.Topics(ctx)
	if err != nil {
		t.Fatalf("Topics: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("topics: got %d", len(topics))
	}
	if got := topics[0]; got.Entries != 2 || got.Important != 1 || got.Channel != "teams" {
		t.Errorf("topic info: got %+v", got)
	}

	found, err := f.svc.Search(ctx, store.SearchFilter{Query: "guide"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("search results: got %d, want 2", len(found))
	}

	e, err := f.svc.Get(ctx, found[0].ID)
	if err != nil || e.ID != found[0].ID {
		t.Errorf("Get: got %v, %v", e, err)
	}
	if _, err := f.svc.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get malformed id: got %v, want ErrNotFound", err)
	}
	if _, err := f.svc.Updates(ctx, UpdatesQuery{Topic: "Nope"}); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("unknown topic: got %v", err)
	}
	if _, err := f.svc.Updates(ctx, UpdatesQuery{Type: "monthly"}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("bad type: got %v", err)
	}
}

func TestUpdatesQuery_Paging(t *testing.T) {
	q := UpdatesQuery{Page: 3, Limit: 500, Type: "weekly"}
	f, err := q.filter()
	if err != nil {
		t.Fatal(err)
	}
	if f.Limit != MaxPageSize || f.Offset != 2*MaxPageSize || f.Kind != store.KindDigest {
		t.Errorf("filter: got %+v", f)
	}
}

func TestNew_ReadOnly(t *testing.T) {
	// WHAT: a read-only service needs no LLM credentials and refuses to poll.
	// WHY: serve and mcp run next to the poller without its secrets.
	cfg := &Config{
		LLM:    LLMConfig{Provider: ProviderGemini},
		Topics: []TopicConfig{{Name: "A", RootCommitsURL: "https://x/commits", Language: "English"}},
	}
	svc, err := New(context.Background(), cfg, quietLogger(), ReadOnly(), WithDB(dbopen.OpenMemory(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.RunOnce(context.Background()); !errors.Is(err, ErrReadOnly) {
		t.Errorf("RunOnce: got %v, want ErrReadOnly", err)
	}
	if _, err := svc.Updates(context.Background(), UpdatesQuery{}); err != nil {
		t.Errorf("Updates: %v", err)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	cfg := &Config{
		LLM:    LLMConfig{Provider: ProviderGemini},
		Topics: []TopicConfig{{Name: "A", RootCommitsURL: "https://x/commits", Language: "English"}},
	}
	if _, err := New(context.Background(), cfg, quietLogger()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New: got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_HistoryUnavailable(t *testing.T) {
	// WHAT: a database path that cannot be created degrades to no history.
	// WHY: store unavailability must never stop polling.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{
		Database:     filepath.Join(blocker, "history.db"),
		FallbackFile: filepath.Join(dir, "fallback.txt"),
		LLM:          LLMConfig{Encoding: classify.HeuristicEncoding},
		Topics:       []TopicConfig{{Name: "A", RootCommitsURL: "https://x/commits", Language: "English"}},
	}
	calls := 0
	svc, err := New(context.Background(), cfg, quietLogger(), WithGenerator(scriptedLLM(&calls)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.store != nil {
		t.Fatal("store should be unavailable")
	}
	if _, err := svc.Updates(context.Background(), UpdatesQuery{}); !errors.Is(err, ErrNoHistory) {
		t.Errorf("Updates: got %v, want ErrNoHistory", err)
	}
	topics, err := svc.Topics(context.Background())
	if err != nil || len(topics) != 1 || topics[0].Entries != 0 {
		t.Errorf("Topics without history: got %+v, %v", topics, err)
	}
}

func TestChannelOf(t *testing.T) {
	cases := map[string]string{
		"":                        "none",
		"telegram://-100":         "telegram",
		"https://hooks.example/x": "teams",
	}
	for target, want := range cases {
		if got := channelOf(target); got != want {
			t.Errorf("channelOf(%q): got %q, want %q", target, got, want)
		}
	}
}

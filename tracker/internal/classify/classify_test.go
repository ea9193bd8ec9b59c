package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/docwatch/tracker/internal/llm"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(s string) int { return len(strings.Fields(s)) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClassifier(gen llm.Generator, cfg Config) *Classifier {
	return New(gen, cfg, WithTokenizer(wordTokenizer{}), WithLogger(quietLogger()))
}

func replying(text string, calls *[]llm.Request) llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if calls != nil {
			*calls = append(*calls, req)
		}
		return &llm.Response{Text: text, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
	})
}

func TestClassify_Structured(t *testing.T) {
	// WHAT: a structured analysis is decoded, links rewritten and importance taken from the score.
	// WHY: this is the per-commit happy path feeding notifications.
	var calls []llm.Request
	gen := replying(`{"summary":"Updated articles/aks/intro.md with a new section.","title":"AKS intro","importance_score":1,"importance_score_reasoning":"new content"}`, &calls)
	c := newTestClassifier(gen, Config{})

	res, err := c.Classify(context.Background(), "diff --git", "English", "Summarize.")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Importance != 1 {
		t.Errorf("importance: got %d, want 1", res.Importance)
	}
	want := "Updated https://learn.microsoft.com/en-us/azure/aks/intro with a new section."
	if res.Summary != want {
		t.Errorf("summary: got %q, want %q", res.Summary, want)
	}
	if res.Title != "AKS intro" || res.Reasoning != "new content" {
		t.Errorf("title/reasoning: got %q / %q", res.Title, res.Reasoning)
	}
	if res.Usage.TotalTokens != 15 {
		t.Errorf("usage: got %+v", res.Usage)
	}

	if len(calls) != 1 {
		t.Fatalf("calls: got %d, want 1", len(calls))
	}
	req := calls[0]
	if req.Temperature != 0 || req.MaxTokens != 1000 {
		t.Errorf("temperature/max_tokens: got %v/%d", req.Temperature, req.MaxTokens)
	}
	if req.Output == nil || req.Output.Name != "commit_analysis" {
		t.Errorf("output: got %+v", req.Output)
	}
	if got := req.Messages[0].Content; got != "Summarize. Reply in English." {
		t.Errorf("system: got %q", got)
	}
	if got := req.Messages[1].Content; got != "Here are the commit patch data. #####diff --git ##### Reply in English" {
		t.Errorf("user: got %q", got)
	}
}

func TestClassify_UnimportantFlagStripped(t *testing.T) {
	gen := replying(`{"summary":"Fixed a typo.","title":"0 Typo fix","importance_score":0,"importance_score_reasoning":"typo"}`, nil)
	res, err := newTestClassifier(gen, Config{}).Classify(context.Background(), "p", "English", "x")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Importance != 0 {
		t.Errorf("importance: got %d, want 0", res.Importance)
	}
	if res.Title != "Typo fix" {
		t.Errorf("title: got %q, want %q", res.Title, "Typo fix")
	}
}

func TestClassify_UnparseableFailsOpen(t *testing.T) {
	// WHAT: transport errors, truncation and malformed JSON all surface ErrUnparseable with importance 1.
	// WHY: a degraded notification is preferable to silently dropping a change.
	cases := map[string]llm.Generator{
		"transport": llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, errors.New("connection reset")
		}),
		"truncated": llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: `{"summary":"cut`, Usage: llm.Usage{TotalTokens: 1000}}, llm.ErrTruncated
		}),
		"malformed": replying("I cannot answer in JSON", nil),
		"empty":     replying(`{"summary":"","title":"","importance_score":0,"importance_score_reasoning":""}`, nil),
	}
	for name, gen := range cases {
		res, err := newTestClassifier(gen, Config{}).Classify(context.Background(), "p", "English", "x")
		if !errors.Is(err, ErrUnparseable) {
			t.Errorf("%s: error: got %v, want ErrUnparseable", name, err)
			continue
		}
		if name == "truncated" && !errors.Is(err, llm.ErrTruncated) {
			t.Errorf("truncated: cause lost: %v", err)
		}
		if res == nil || res.Importance != 1 {
			t.Errorf("%s: result: got %+v, want importance 1", name, res)
		}
	}
}

func TestClassify_TruncatedKeepsUsage(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Usage: llm.Usage{TotalTokens: 1000}}, llm.ErrTruncated
	})
	res, _ := newTestClassifier(gen, Config{}).Classify(context.Background(), "p", "English", "x")
	if res.Usage.TotalTokens != 1000 {
		t.Errorf("usage: got %+v, want total 1000", res.Usage)
	}
}

func TestResolveImportance(t *testing.T) {
	c := newTestClassifier(nil, Config{})
	zero, one, five := 0, 1, 5
	cases := []struct {
		title     string
		score     *int
		wantTitle string
		want      int
	}{
		{"plain", nil, "plain", 1},
		{"0 no score", nil, "no score", 1},
		{"1 keep me", nil, "keep me", 1},
		{"plain", &zero, "plain", 1},
		{"plain", &five, "plain", 1},
		{"0 both zero", &zero, "both zero", 0},
		{"0 disagree", &one, "disagree", 1},
		{"1 disagree", &zero, "disagree", 1},
		{"10 releases", &zero, "10 releases", 1},
		{"1 both one", &one, "both one", 1},
	}
	for _, tc := range cases {
		title, got := c.resolveImportance(tc.title, tc.score)
		if title != tc.wantTitle || got != tc.want {
			t.Errorf("resolveImportance(%q): got (%q, %d), want (%q, %d)", tc.title, title, got, tc.wantTitle, tc.want)
		}
	}
}

func TestLinkRewriter(t *testing.T) {
	r := NewLinkRewriter(map[string]string{"docs/": "https://example.com/"})

	cases := map[string]string{
		"/articles/storage/blob.md": "https://learn.microsoft.com/en-us/azure/storage/blob",
		"see /docs/a.yml":           "see https://learn.microsoft.com/en-us/fabric/a",
		"see docs/a.yml":            "see https://example.com/a",
		"windows-driver-docs-pr/x":  "https://learn.microsoft.com/en-us/windows-hardware/drivers/x",
		"no links here":             "no links here",
	}
	for in, want := range cases {
		if got := r.Rewrite(in); got != want {
			t.Errorf("Rewrite(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"<b>Bold</b> & co":             "Bold & co",
		"[link](https://x.test/a?b=c)": "[link](https://x.test/a?b=c)",
		"  plain  ":                    "plain",
		`<script>alert(1)</script>ok`:  "ok",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestHeuristicTokenizer(t *testing.T) {
	// 9 runes / 4 = 2; 2 words * 4 / 3 = 2; mean = 2
	if got := (HeuristicTokenizer{}).Count("abcd efgh"); got != 2 {
		t.Errorf("Count: got %d, want 2", got)
	}
	if got := (HeuristicTokenizer{}).Count(""); got != 0 {
		t.Errorf("Count(empty): got %d, want 0", got)
	}
}

func weekly(title, summary string, importance int) *store.Entry {
	return &store.Entry{Title: title, Summary: summary, Importance: importance}
}

func TestClassifyAggregate(t *testing.T) {
	// WHAT: only important entries are folded in, in order, with header and footer.
	// WHY: the digest must not resurface changes classified as trivial.
	var calls []llm.Request
	c := newTestClassifier(replying("1. First\n2. Second", &calls), Config{})
	entries := []*store.Entry{
		weekly("First", "first summary", 1),
		weekly("Skipped", "typo", 0),
		weekly("Second", "second summary", 1),
	}

	agg, err := c.ClassifyAggregate(context.Background(), entries, "English", "Digest.", 0)
	if err != nil {
		t.Fatalf("ClassifyAggregate: %v", err)
	}
	if agg.Included != 2 || agg.Truncated {
		t.Errorf("included/truncated: got %d/%v", agg.Included, agg.Truncated)
	}
	if agg.Text != "1. First\n2. Second" {
		t.Errorf("text: got %q", agg.Text)
	}

	req := calls[0]
	if req.Output != nil {
		t.Error("weekly digest must use free-text mode")
	}
	if req.MaxTokens != 2000 {
		t.Errorf("max_tokens: got %d, want 2000", req.MaxTokens)
	}
	if got := req.Messages[0].Content; got != "Digest.\nReply reasoning in English." {
		t.Errorf("system: got %q", got)
	}
	user := req.Messages[1].Content
	if !strings.HasPrefix(user, aggregateHeader) || !strings.HasSuffix(user, aggregateFooter) {
		t.Errorf("user prompt framing: got %q", user)
	}
	if strings.Contains(user, "Skipped") {
		t.Error("unimportant entry leaked into the prompt")
	}
	if strings.Index(user, "First") > strings.Index(user, "Second") {
		t.Error("entries out of order")
	}
}

func TestClassifyAggregate_TokenLimit(t *testing.T) {
	var calls []llm.Request
	tok := wordTokenizer{}
	c := newTestClassifier(replying("digest", &calls), Config{})
	entries := []*store.Entry{
		weekly("One", "alpha beta", 1),
		weekly("Two", "gamma delta", 1),
	}
	limit := tok.Count(aggregateHeader) + tok.Count(aggregateFooter) + tok.Count("One\n\nalpha beta\n\n")

	agg, err := c.ClassifyAggregate(context.Background(), entries, "English", "Digest.", limit)
	if err != nil {
		t.Fatalf("ClassifyAggregate: %v", err)
	}
	if agg.Included != 1 || !agg.Truncated {
		t.Errorf("included/truncated: got %d/%v, want 1/true", agg.Included, agg.Truncated)
	}
	if strings.Contains(calls[0].Messages[1].Content, "gamma") {
		t.Error("entry beyond the token budget was included")
	}
}

func TestClassifyAggregate_NoDigest(t *testing.T) {
	var calls []llm.Request
	c := newTestClassifier(replying("x", &calls), Config{})

	_, err := c.ClassifyAggregate(context.Background(), []*store.Entry{weekly("t", "s", 0)}, "English", "p", 0)
	if !errors.Is(err, ErrNoDigest) {
		t.Errorf("error: got %v, want ErrNoDigest", err)
	}
	_, err = c.ClassifyAggregate(context.Background(), nil, "English", "p", 0)
	if !errors.Is(err, ErrNoDigest) {
		t.Errorf("empty: got %v, want ErrNoDigest", err)
	}
	if len(calls) != 0 {
		t.Errorf("calls: got %d, want 0", len(calls))
	}
}

func TestClassifyAggregate_TruncatedOutputKept(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "1. partial"}, llm.ErrTruncated
	})
	agg, err := newTestClassifier(gen, Config{}).ClassifyAggregate(context.Background(),
		[]*store.Entry{weekly("t", "s", 1)}, "English", "p", 0)
	if err != nil {
		t.Fatalf("ClassifyAggregate: %v", err)
	}
	if agg.Text != "1. partial" {
		t.Errorf("text: got %q", agg.Text)
	}
}

func TestNewTokenizer_Heuristic(t *testing.T) {
	// WHAT: the heuristic encoding name skips the BPE vocabulary.
	// WHY: offline deployments must not try to download a vocabulary.
	if _, ok := NewTokenizer(HeuristicEncoding, nil).(HeuristicTokenizer); !ok {
		t.Fatal("heuristic encoding should return HeuristicTokenizer")
	}
	if _, ok := NewTokenizer("no-such-encoding", quietLogger()).(HeuristicTokenizer); !ok {
		t.Fatal("unknown encoding should fall back to HeuristicTokenizer")
	}
}

// CLAUDE:SUMMARY Classifier: turns a commit patch into summary, title, importance and reasoning via the llm capability.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docwatch/tracker/internal/llm"
)

// Config tunes generation calls.
type Config struct {
	// MaxTokens caps a per-commit analysis (default 1000).
	MaxTokens int
	// WeeklyMaxTokens caps a weekly digest (default 2000).
	WeeklyMaxTokens int
	// LinkMapping overrides or extends DefaultLinkMapping.
	LinkMapping map[string]string
}

func (c *Config) defaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.WeeklyMaxTokens <= 0 {
		c.WeeklyMaxTokens = 2000
	}
}

// Result is one commit analysis.
type Result struct {
	Summary    string
	Title      string // importance flag stripped
	Importance int    // 0 or 1
	Reasoning  string
	Usage      llm.Usage
}

// Classifier is safe for sequential use by one pipeline.
type Classifier struct {
	gen       llm.Generator
	cfg       Config
	links     *LinkRewriter
	tokenizer Tokenizer
	logger    *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTokenizer replaces the default BPE tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(c *Classifier) { c.tokenizer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier over gen.
func New(gen llm.Generator, cfg Config, opts ...Option) *Classifier {
	cfg.defaults()
	c := &Classifier{
		gen:    gen,
		cfg:    cfg,
		links:  NewLinkRewriter(cfg.LinkMapping),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.tokenizer == nil {
		c.tokenizer = NewTokenizer(DefaultEncoding, c.logger)
	}
	return c
}

// CommitAnalysisSchema is the structured output requested per commit.
var CommitAnalysisSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"summary": {Type: "string", Description: "Markdown summary of the documentation change."},
		"title":   {Type: "string", Description: "Short title of the change."},
		"importance_score": {
			Type:        "integer",
			Description: "1 if readers should be notified, 0 for trivial edits such as typos or formatting.",
		},
		"importance_score_reasoning": {Type: "string", Description: "Why the score was chosen."},
	},
	Required: []string{"summary", "title", "importance_score", "importance_score_reasoning"},
}

type commitAnalysis struct {
	Summary   string `json:"summary"`
	Title     string `json:"title"`
	Score     *int   `json:"importance_score"`
	Reasoning string `json:"importance_score_reasoning"`
}

// Classify analyses one patch. On any capability failure it returns a
// Result carrying whatever usage was reported and an error wrapping
// ErrUnparseable; callers fail open.
func (c *Classifier) Classify(ctx context.Context, patch, language, prompt string) (*Result, error) {
	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf("%s Reply in %s.", prompt, language)},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Here are the commit patch data. #####%s ##### Reply in %s", patch, language)},
		},
		Temperature: 0,
		MaxTokens:   c.cfg.MaxTokens,
		Output:      &llm.StructuredOutput{Name: "commit_analysis", Schema: CommitAnalysisSchema},
	}

	res := &Result{Importance: 1}
	resp, err := c.gen.Generate(ctx, req)
	if resp != nil {
		res.Usage = resp.Usage
	}
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	var a commitAnalysis
	if err := resp.Decode(&a); err != nil {
		return res, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if strings.TrimSpace(a.Summary) == "" || strings.TrimSpace(a.Title) == "" {
		return res, fmt.Errorf("%w: empty summary or title", ErrUnparseable)
	}

	title, importance := c.resolveImportance(a.Title, a.Score)
	res.Title = sanitize(title)
	res.Summary = sanitize(c.links.Rewrite(a.Summary))
	res.Reasoning = sanitize(a.Reasoning)
	res.Importance = importance

	c.logger.Info("classify: commit analysed",
		"title", res.Title,
		"importance", res.Importance,
		"total_tokens", res.Usage.TotalTokens)
	return res, nil
}

// resolveImportance merges the numeric score with the leading "0 "/"1 "
// title flag and strips the flag. The result is 0 only when both signals
// are present and say 0. A missing flag or score, or a disagreement,
// resolves to 1.
func (c *Classifier) resolveImportance(title string, score *int) (string, int) {
	flag := -1
	switch {
	case strings.HasPrefix(title, "0 "):
		flag = 0
		title = title[2:]
	case strings.HasPrefix(title, "1 "):
		flag = 1
		title = title[2:]
	}

	s := -1
	if score != nil {
		s = 0
		if *score > 0 {
			s = 1
		}
	}

	switch {
	case flag < 0 || s < 0:
		if flag == 0 || s == 0 {
			c.logger.Warn("classify: importance signal missing, keeping commit", "flag", flag, "score", s)
		}
		return title, 1
	case flag != s:
		c.logger.Warn("classify: title flag disagrees with score", "flag", flag, "score", s)
		return title, 1
	default:
		return title, s
	}
}

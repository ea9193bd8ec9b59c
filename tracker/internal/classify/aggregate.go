package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/docwatch/tracker/internal/llm"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

const (
	aggregateHeader = "Here are the document titles and summaries for this week's updates:\n\n"
	aggregateFooter = "Please format the updates in a numbered list, with each entry containing the title tag, " +
		"title, summary, and link, prioritized by their significance with the most important updates at the top."
)

// Aggregate is a generated weekly digest.
type Aggregate struct {
	Text      string
	Usage     llm.Usage
	Included  int
	Truncated bool
}

// ClassifyAggregate folds the important entries, in the order given, into a
// single free-text digest. Entries are appended until the running token
// estimate would exceed maxInputTokens (0 means unbounded). It returns
// ErrNoDigest without calling the capability when nothing qualifies.
func (c *Classifier) ClassifyAggregate(ctx context.Context, entries []*store.Entry, language, prompt string, maxInputTokens int) (*Aggregate, error) {
	agg := &Aggregate{}

	var b strings.Builder
	b.WriteString(aggregateHeader)
	used := c.tokenizer.Count(aggregateHeader) + c.tokenizer.Count(aggregateFooter)
	important := 0

	for _, e := range entries {
		if e.Importance != 1 {
			continue
		}
		important++
		block := e.Title + "\n\n" + e.Summary + "\n\n"
		cost := c.tokenizer.Count(block)
		if maxInputTokens > 0 && used+cost > maxInputTokens {
			agg.Truncated = true
			break
		}
		b.WriteString(block)
		used += cost
		agg.Included++
	}

	if agg.Truncated {
		c.logger.Warn("classify: weekly prompt truncated",
			"included", agg.Included,
			"max_input_tokens", maxInputTokens,
			"estimated_tokens", used)
	}
	if agg.Included == 0 {
		return agg, ErrNoDigest
	}
	b.WriteString(aggregateFooter)

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf("%s\nReply reasoning in %s.", prompt, language)},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: 0,
		MaxTokens:   c.cfg.WeeklyMaxTokens,
	}
	resp, err := c.gen.Generate(ctx, req)
	if resp != nil {
		agg.Usage = resp.Usage
	}
	switch {
	case errors.Is(err, llm.ErrTruncated) && resp != nil && strings.TrimSpace(resp.Text) != "":
		c.logger.Warn("classify: weekly digest cut at max tokens", "max_tokens", c.cfg.WeeklyMaxTokens)
	case err != nil:
		return agg, fmt.Errorf("classify: weekly digest: %w", err)
	}

	agg.Text = sanitize(c.links.Rewrite(resp.Text))
	if agg.Text == "" {
		return agg, fmt.Errorf("classify: weekly digest: %w", llm.ErrEmptyResponse)
	}
	c.logger.Info("classify: weekly digest generated",
		"entries", agg.Included,
		"important", important,
		"total_tokens", agg.Usage.TotalTokens)
	return agg, nil
}

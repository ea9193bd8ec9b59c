// CLAUDE:SUMMARY GitHub commit source: lists commits of a tracked path, fetches per-commit patches filtered to the topic sub-path.
// Package commits discovers new commits of a tracked documentation path and
// fetches their patches from the GitHub REST API.
package commits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docwatch/connectivity"
)

// Ref identifies one commit.
type Ref struct {
	Time   time.Time `json:"time"`    // author date, UTC, second precision
	APIURL string    `json:"api_url"` // used to fetch the patch
	WebURL string    `json:"web_url"` // human-facing commit page
}

// Config configures the GitHub client.
type Config struct {
	// Token is sent as a bearer token when set.
	Token string
	// UserAgent is sent on every request. Default: "docwatch/1.0".
	UserAgent string
	// Timeout bounds each attempt. Default: 60s.
	Timeout time.Duration
	// Retry bounds attempts per call. Default: 3 attempts, 2s apart.
	Retry connectivity.RetryPolicy
	// BreakerThreshold consecutive list failures open the circuit. Default: 5.
	// Patch fetches bypass the breaker so every commit gets its own attempts.
	BreakerThreshold int
	// BreakerReset is how long the circuit stays open. Default: 5m.
	BreakerReset time.Duration
}

func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "docwatch/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = 2 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 5 * time.Minute
	}
}

// Source lists commits and fetches patches.
type Source struct {
	list    connectivity.Handler
	patch   connectivity.Handler
	breaker *connectivity.CircuitBreaker
	logger  *slog.Logger
}

// Option configures a Source.
type Option func(*sourceOptions)

type sourceOptions struct {
	client *http.Client
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *sourceOptions) { o.client = c }
}

// NewSource creates a GitHub commit source.
func NewSource(cfg Config, logger *slog.Logger, opts ...Option) *Source {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := sourceOptions{client: &http.Client{}}
	for _, fn := range opts {
		fn(&o)
	}

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")
	header.Set("User-Agent", cfg.UserAgent)
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	cb := connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(cfg.BreakerThreshold),
		connectivity.WithBreakerResetTimeout(cfg.BreakerReset),
	)
	base := connectivity.HTTPGet(o.client, header)
	list := connectivity.Chain(
		connectivity.Logging(logger, "github"),
		connectivity.WithRetry(cfg.Retry, logger),
		connectivity.WithCircuitBreaker(cb, "github"),
		connectivity.WithTimeout(cfg.Timeout),
	)(base)
	patch := connectivity.Chain(
		connectivity.Logging(logger, "github_patch"),
		connectivity.WithRetry(cfg.Retry, logger),
		connectivity.WithTimeout(cfg.Timeout),
	)(base)

	return &Source{list: list, patch: patch, breaker: cb, logger: logger}
}

// BreakerState exposes the GitHub circuit state for health reporting.
func (s *Source) BreakerState() connectivity.BreakerState {
	return s.breaker.State()
}

type listItem struct {
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Author *struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// ListCommits returns the commits listed at rootURL keyed by author time.
// Items without a URL or a parseable author date are logged and skipped.
// A response that is not a JSON array yields an empty map.
func (s *Source) ListCommits(ctx context.Context, rootURL string) (map[time.Time]Ref, error) {
	body, err := s.list(ctx, []byte(listURL(rootURL)))
	if err != nil {
		return nil, fmt.Errorf("commits: list %s: %w", rootURL, err)
	}

	out := make(map[time.Time]Ref)
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		s.logger.WarnContext(ctx, "commits: list response is not an array", "root", rootURL, "error", err)
		return out, nil
	}

	for i, r := range raw {
		var it listItem
		if err := json.Unmarshal(r, &it); err != nil {
			s.logger.WarnContext(ctx, "commits: skipping malformed item", "index", i, "error", err)
			continue
		}
		if it.URL == "" || it.Commit.Author == nil || it.Commit.Author.Date == "" {
			s.logger.WarnContext(ctx, "commits: skipping item with missing fields", "index", i, "url", it.URL)
			continue
		}
		at, err := time.Parse(time.RFC3339, it.Commit.Author.Date)
		if err != nil {
			s.logger.WarnContext(ctx, "commits: skipping item with bad date",
				"index", i, "date", it.Commit.Author.Date, "error", err)
			continue
		}
		at = at.UTC().Truncate(time.Second)

		if prev, dup := out[at]; dup {
			s.logger.WarnContext(ctx, "commits: two commits share a timestamp, keeping the first",
				"time", at, "kept", prev.APIURL, "dropped", it.URL)
			continue
		}
		web := it.HTMLURL
		if web == "" {
			web = WebURL(it.URL)
		}
		out[at] = Ref{Time: at, APIURL: it.URL, WebURL: web}
	}
	return out, nil
}

type commitDetail struct {
	Files []struct {
		Filename string `json:"filename"`
		Patch    string `json:"patch"`
	} `json:"files"`
}

// FetchPatch returns the concatenated patches of ref's files under
// pathFilter (all files when empty), each block introduced by an
// "Original Path:" line, truncated to maxBytes characters (0 disables
// truncation).
// Failures after retries wrap ErrFetchFailed.
func (s *Source) FetchPatch(ctx context.Context, ref Ref, pathFilter string, maxBytes int) (string, error) {
	body, err := s.patch(ctx, []byte(ref.APIURL))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, ref.APIURL, err)
	}

	var detail commitDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return "", fmt.Errorf("%w: %s: decode: %w", ErrFetchFailed, ref.APIURL, err)
	}

	var b strings.Builder
	for _, f := range detail.Files {
		if f.Filename == "" || f.Patch == "" {
			continue
		}
		if pathFilter != "" && !strings.HasPrefix(f.Filename, pathFilter) {
			continue
		}
		b.WriteString("Original Path: ")
		b.WriteString(f.Filename)
		b.WriteString("\n")
		b.WriteString(f.Patch)
		b.WriteString("\n\n")
	}
	return Truncate(b.String(), maxBytes), nil
}

// IsFetchFailed reports whether err is a terminal patch fetch failure.
func IsFetchFailed(err error) bool {
	return errors.Is(err, ErrFetchFailed)
}

// Truncate cuts s to its first maxBytes characters (runes). The cut ignores
// diff structure. maxBytes <= 0 returns s unchanged.
func Truncate(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := 0
	for n := 0; n < maxBytes && cut < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return s[:cut]
}

// PathFilter extracts the sub-path from the path= query parameter of a
// commit-list URL. An empty result means every file is relevant.
func PathFilter(rootURL string) string {
	u, err := url.Parse(rootURL)
	if err != nil {
		if _, after, ok := strings.Cut(rootURL, "path="); ok {
			return after
		}
		return ""
	}
	return u.Query().Get("path")
}

// WebURL derives the commit page from an API commit URL.
func WebURL(apiURL string) string {
	web := strings.Replace(apiURL, "https://api.github.com/repos", "https://github.com", 1)
	return strings.Replace(web, "/commits/", "/commit/", 1)
}

// HistoryURL derives the web commit history for a commit-list URL; digests
// link there.
func HistoryURL(rootURL string) string {
	return strings.Replace(rootURL, "https://api.github.com/repos", "https://github.com", 1)
}

// listURL asks for 100 commits per page unless the root already sets a page size.
func listURL(rootURL string) string {
	u, err := url.Parse(rootURL)
	if err != nil {
		return rootURL
	}
	q := u.Query()
	if q.Get("per_page") != "" {
		return rootURL
	}
	q.Set("per_page", "100")
	u.RawQuery = q.Encode()
	return u.String()
}

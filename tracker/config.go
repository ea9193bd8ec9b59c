// CLAUDE:SUMMARY YAML service configuration: defaults, env expansion, validation, conversion to pipeline topics.
package tracker

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docwatch/tracker/internal/pipeline"
	"github.com/hazyhaar/docwatch/tracker/internal/scheduler"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
)

// DefaultCommitPrompt is the per-commit system prompt when none is configured.
const DefaultCommitPrompt = "You review documentation commits. From the patch, write a short summary " +
	"of what changed for a reader of the published documentation, a title, and an " +
	"importance_score: 1 when the change alters meaning (new features, changed behavior, " +
	"limits, deprecations, new pages), 0 for typos, formatting, metadata or link fixes. " +
	"Start the title with the same score and a space (\"1 \" or \"0 \"). " +
	"Explain the score in importance_score_reasoning."

// DefaultWeeklyPrompt is the weekly system prompt when none is configured.
const DefaultWeeklyPrompt = "You write a weekly digest of documentation updates for engineers. " +
	"Group related updates, keep every link, and put the most significant changes first."

// Config configures the tracker service. Load it with LoadConfigFile or
// build it in code and call Validate.
type Config struct {
	// Database is the SQLite history path. Empty disables history.
	Database string `yaml:"database"`
	// FallbackFile persists the cursor fallback instant.
	FallbackFile string `yaml:"fallback_file"`
	// PollSchedule is a cron spec or @every interval.
	PollSchedule string `yaml:"poll_schedule"`

	GitHub      GitHubConfig      `yaml:"github"`
	LLM         LLMConfig         `yaml:"llm"`
	Prompts     PromptConfig      `yaml:"prompts"`
	LinkMapping map[string]string `yaml:"link_mapping"`
	Weekly      WeeklyConfig      `yaml:"weekly"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	HTTP        HTTPConfig        `yaml:"http"`
	Topics      []TopicConfig     `yaml:"topics"`
}

// GitHubConfig configures the commit API client.
type GitHubConfig struct {
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	MaxPatchBytes    int           `yaml:"max_patch_bytes"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// LLMConfig selects and tunes the text-generation backend.
type LLMConfig struct {
	Provider        string        `yaml:"provider"`
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	APIVersion      string        `yaml:"api_version"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxTokens       int           `yaml:"max_tokens"`
	WeeklyMaxTokens int           `yaml:"weekly_max_tokens"`
	MaxInputTokens  int           `yaml:"max_input_tokens"`
	Encoding        string        `yaml:"encoding"`
}

// PromptConfig holds the system prompts.
type PromptConfig struct {
	Commit string `yaml:"commit"`
	Weekly string `yaml:"weekly"`
}

// WeeklyConfig configures the weekly digest.
type WeeklyConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	RolloverDay string        `yaml:"rollover_day"`
	Window      time.Duration `yaml:"window"`
}

// On reports whether weekly digests run. Default true.
func (w WeeklyConfig) On() bool { return w.Enabled == nil || *w.Enabled }

// TelegramConfig configures the Telegram Bot API sender.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	APIEndpoint string `yaml:"api_endpoint"`
}

// HTTPConfig configures the read API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per minute per client IP; negative disables.
	RateLimit int `yaml:"rate_limit"`
}

// TopicConfig is one tracked documentation area.
type TopicConfig struct {
	Name             string `yaml:"name"`
	RootCommitsURL   string `yaml:"root_commits_url"`
	Language         string `yaml:"language"`
	WebhookURL       string `yaml:"webhook_url"`
	ShowTopicInTitle bool   `yaml:"show_topic_in_title"`
}

func (c *Config) defaults() {
	if c.FallbackFile == "" {
		c.FallbackFile = "data/last_crawl_time.txt"
	}
	if c.PollSchedule == "" {
		c.PollSchedule = scheduler.DefaultSpec
	}
	if c.GitHub.Timeout <= 0 {
		c.GitHub.Timeout = 60 * time.Second
	}
	if c.GitHub.RetryAttempts <= 0 {
		c.GitHub.RetryAttempts = 3
	}
	if c.GitHub.RetryDelay <= 0 {
		c.GitHub.RetryDelay = 2 * time.Second
	}
	if c.GitHub.MaxPatchBytes <= 0 {
		c.GitHub.MaxPatchBytes = 30000
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1000
	}
	if c.LLM.WeeklyMaxTokens <= 0 {
		c.LLM.WeeklyMaxTokens = 2000
	}
	if c.LLM.MaxInputTokens <= 0 {
		c.LLM.MaxInputTokens = 30000
	}
	if c.LLM.Encoding == "" {
		c.LLM.Encoding = "cl100k_base"
	}
	if c.Prompts.Commit == "" {
		c.Prompts.Commit = DefaultCommitPrompt
	}
	if c.Prompts.Weekly == "" {
		c.Prompts.Weekly = DefaultWeeklyPrompt
	}
	if c.Weekly.RolloverDay == "" {
		c.Weekly.RolloverDay = "monday"
	}
	if c.Weekly.Window <= 0 {
		c.Weekly.Window = pollInterval(c.PollSchedule)
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 120
	}
}

func defaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// pollInterval is the period of an @every schedule, or two hours for
// calendar specs.
func pollInterval(spec string) time.Duration {
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && d > 0 {
			return d
		}
	}
	return 2 * time.Hour
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (w WeeklyConfig) weekday() (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(w.RolloverDay))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown rollover_day %q", ErrInvalidConfig, w.RolloverDay)
	}
	return d, nil
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	if len(c.Topics) == 0 {
		return fmt.Errorf("%w: no topics", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Topics))
	for i, t := range c.Topics {
		switch {
		case t.Name == "":
			return fmt.Errorf("%w: topic %d: name is required", ErrInvalidConfig, i)
		case t.RootCommitsURL == "":
			return fmt.Errorf("%w: topic %q: root_commits_url is required", ErrInvalidConfig, t.Name)
		case t.Language == "":
			return fmt.Errorf("%w: topic %q: language is required", ErrInvalidConfig, t.Name)
		}
		k := t.Name + "\x00" + t.Language + "\x00" + t.RootCommitsURL
		if seen[k] {
			return fmt.Errorf("%w: topic %q/%s listed twice", ErrInvalidConfig, t.Name, t.Language)
		}
		seen[k] = true
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAzure, ProviderGemini:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if _, err := c.Weekly.weekday(); err != nil {
		return err
	}
	if _, err := scheduler.New(c.PollSchedule, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfigFile reads a YAML config, expanding ${VAR} references from the
// environment, applies defaults and validates it.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tracker: read config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig is LoadConfigFile on an in-memory document.
func ParseConfig(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) pipelineTopics() []pipeline.Topic {
	out := make([]pipeline.Topic, 0, len(c.Topics))
	for _, t := range c.Topics {
		out = append(out, pipeline.Topic{
			Name:             t.Name,
			RootURL:          t.RootCommitsURL,
			Language:         t.Language,
			Target:           t.WebhookURL,
			ShowTopicInTitle: t.ShowTopicInTitle,
		})
	}
	return out
}

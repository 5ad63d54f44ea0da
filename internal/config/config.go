// Package config loads tracewatch's runtime configuration from environment
// variables, following the same getEnv-plus-.env-file convention the rest
// of this codebase uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env            string
	OTel           OTelConfig
	Chat           ChatConfig
	VCS            VCSConfig
	LLM            LLMConfig
	Matching       MatchingConfig
	Analysis       AnalysisConfig
	CloneCache     CloneCacheConfig
	Agent          AgentConfig
	Repos          RepoRoutingConfig
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool { return c.Endpoint != "" }

// ChatConfig configures the Slack adapter.
type ChatConfig struct {
	BotToken      string
	AppToken      string
	SigningSecret string
}

func (c ChatConfig) Enabled() bool { return c.BotToken != "" }

// VCSConfig configures whichever VCS adapter is active. Exactly one of
// GitHub/GitLab token should be set; the adapter is chosen by Provider.
type VCSConfig struct {
	Provider   string // "github" or "gitlab"
	GitHubToken string
	GitLabToken string
	GitLabBaseURL string
}

// LLMConfig configures whichever LLM adapter is active.
type LLMConfig struct {
	Provider          string // "openai", "anthropic", or "ollama"
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int
	OllamaHost        string
	AllowRemoteOllama bool
}

func (c LLMConfig) Enabled() bool { return c.Provider != "" }

// MatchingConfig tunes the issue matcher.
type MatchingConfig struct {
	ConfidenceThreshold float64
	MaxSearchResults    int
	IncludeClosed       bool
	SearchCacheTTL      time.Duration
	WeightType          float64
	WeightMessage       float64
	WeightFrames        float64
	WeightSemantic      float64
}

// AnalysisConfig tunes the code analyzer.
type AnalysisConfig struct {
	ContextLines    int
	MaxFiles        int
	IncludeFiles    []string
	MaxIncludeLines int
}

// CloneCacheConfig tunes the shared repository clone cache.
type CloneCacheConfig struct {
	MaxAge          time.Duration
	MaxTotalSizeMB  int64
	CleanupInterval time.Duration
}

// AgentConfig tunes the orchestrator's worker pool and shutdown grace period.
type AgentConfig struct {
	MaxConcurrent     int
	ProcessingTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// RepoRoutingConfig controls which repository a channel's messages resolve
// against, and which repositories the agent is allowed to touch at all.
type RepoRoutingConfig struct {
	DefaultRepo  string
	ChannelRepos map[string]string
	AllowedRepos map[string]bool
}

// Load reads configuration from the environment, loading a .env file first
// if present (development convenience only; absence is not an error).
func Load() (Config, error) {
	env := getEnv("TRACEWATCH_ENV", "development")
	if env == "development" {
		_ = godotenv.Load()
	}

	cfg := Config{
		Env: env,
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "tracewatch"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Chat: ChatConfig{
			BotToken:      getEnv("SLACK_BOT_TOKEN", ""),
			AppToken:      getEnv("SLACK_APP_TOKEN", ""),
			SigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
		},
		VCS: VCSConfig{
			Provider:      getEnv("VCS_PROVIDER", "github"),
			GitHubToken:   getEnv("GITHUB_TOKEN", ""),
			GitLabToken:   getEnv("GITLAB_TOKEN", ""),
			GitLabBaseURL: getEnv("GITLAB_BASE_URL", ""),
		},
		LLM: LLMConfig{
			Provider:          getEnv("LLM_PROVIDER", "openai"),
			APIKey:            getEnv("LLM_API_KEY", ""),
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			BaseURL:           getEnv("LLM_BASE_URL", ""),
			MaxTokens:         getEnvInt("LLM_MAX_TOKENS", 4096),
			OllamaHost:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
			AllowRemoteOllama: getEnvBool("ALLOW_REMOTE_OLLAMA_HOST", false),
		},
		Matching: MatchingConfig{
			ConfidenceThreshold: getEnvFloat("MATCH_CONFIDENCE_THRESHOLD", 0.85),
			MaxSearchResults:    getEnvInt("MATCH_MAX_SEARCH_RESULTS", 10),
			IncludeClosed:       getEnvBool("MATCH_INCLUDE_CLOSED", false),
			SearchCacheTTL:      getEnvDuration("MATCH_SEARCH_CACHE_TTL", 300*time.Second),
			WeightType:          getEnvFloat("MATCH_WEIGHT_TYPE", 0.3),
			WeightMessage:       getEnvFloat("MATCH_WEIGHT_MESSAGE", 0.4),
			WeightFrames:        getEnvFloat("MATCH_WEIGHT_FRAMES", 0.2),
			WeightSemantic:      getEnvFloat("MATCH_WEIGHT_SEMANTIC", 0.1),
		},
		Analysis: AnalysisConfig{
			ContextLines:    getEnvInt("ANALYSIS_CONTEXT_LINES", 15),
			MaxFiles:        getEnvInt("ANALYSIS_MAX_FILES", 5),
			IncludeFiles:    getEnvList("ANALYSIS_INCLUDE_FILES", []string{"README.md"}),
			MaxIncludeLines: getEnvInt("ANALYSIS_MAX_INCLUDE_LINES", 200),
		},
		CloneCache: CloneCacheConfig{
			MaxAge:          getEnvDuration("CLONE_CACHE_TTL", time.Hour),
			MaxTotalSizeMB:  getEnvInt64("CLONE_CACHE_MAX_SIZE_MB", 2048),
			CleanupInterval: getEnvDuration("CLONE_CACHE_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Agent: AgentConfig{
			MaxConcurrent:     getEnvInt("AGENT_MAX_CONCURRENT", 5),
			ProcessingTimeout: getEnvDuration("AGENT_PROCESSING_TIMEOUT", 300*time.Second),
			ShutdownTimeout:   getEnvDuration("AGENT_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Repos: RepoRoutingConfig{
			DefaultRepo:  getEnv("DEFAULT_REPO", ""),
			ChannelRepos: getEnvMap("CHANNEL_REPOS"),
			AllowedRepos: getEnvSet("ALLOWED_REPOS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would leave the agent unable to do
// anything useful or that violate an invariant the rest of the code assumes
// (e.g. weights that don't sum close to 1).
func (c Config) Validate() error {
	if !c.Chat.Enabled() {
		return fmt.Errorf("config: SLACK_BOT_TOKEN is required")
	}
	if c.VCS.Provider != "github" && c.VCS.Provider != "gitlab" {
		return fmt.Errorf("config: VCS_PROVIDER must be \"github\" or \"gitlab\", got %q", c.VCS.Provider)
	}
	if c.VCS.Provider == "github" && c.VCS.GitHubToken == "" {
		return fmt.Errorf("config: GITHUB_TOKEN is required when VCS_PROVIDER=github")
	}
	if c.VCS.Provider == "gitlab" && c.VCS.GitLabToken == "" {
		return fmt.Errorf("config: GITLAB_TOKEN is required when VCS_PROVIDER=gitlab")
	}

	weightSum := c.Matching.WeightType + c.Matching.WeightMessage + c.Matching.WeightFrames + c.Matching.WeightSemantic
	if weightSum < 0.99 || weightSum > 1.01 {
		return fmt.Errorf("config: matcher weights must sum to 1.0, got %.3f", weightSum)
	}

	if c.Agent.MaxConcurrent <= 0 {
		return fmt.Errorf("config: AGENT_MAX_CONCURRENT must be positive")
	}
	if c.Repos.DefaultRepo == "" && len(c.Repos.ChannelRepos) == 0 {
		return fmt.Errorf("config: at least one of DEFAULT_REPO or CHANNEL_REPOS must be set")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList parses a comma-separated list, trimming whitespace around
// each entry and dropping empties.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return splitNonEmpty(value)
}

// getEnvSet parses a comma-separated list into a membership set. An unset
// or empty variable yields an empty (non-restricting) set.
func getEnvSet(key string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range splitNonEmpty(os.Getenv(key)) {
		set[item] = true
	}
	return set
}

// getEnvMap parses "channel1=repo1,channel2=repo2" into a map.
func getEnvMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitNonEmpty(os.Getenv(key)) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func splitNonEmpty(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

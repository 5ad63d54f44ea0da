// Command tracewatch runs the chat-driven traceback triage agent: it
// listens for messages on a chat platform, parses Python tracebacks out of
// them, searches the configured repository for a matching issue, and either
// links the existing one or drafts and files a new one with an LLM-written
// explanation and redacted code context.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pebblecode/tracewatch/internal/agent"
	"github.com/pebblecode/tracewatch/internal/clonecache"
	"github.com/pebblecode/tracewatch/internal/codeanalyzer"
	"github.com/pebblecode/tracewatch/internal/config"
	"github.com/pebblecode/tracewatch/internal/issuematch"
	"github.com/pebblecode/tracewatch/internal/logging"
	"github.com/pebblecode/tracewatch/internal/pipeline"
	"github.com/pebblecode/tracewatch/internal/provider"
	"github.com/pebblecode/tracewatch/internal/provider/chat/slack"
	"github.com/pebblecode/tracewatch/internal/provider/llm/anthropic"
	"github.com/pebblecode/tracewatch/internal/provider/llm/ollama"
	"github.com/pebblecode/tracewatch/internal/provider/llm/openai"
	"github.com/pebblecode/tracewatch/internal/provider/vcs/github"
	"github.com/pebblecode/tracewatch/internal/provider/vcs/gitlab"
	"github.com/pebblecode/tracewatch/internal/security"
	"github.com/pebblecode/tracewatch/internal/telemetry"
	"github.com/pebblecode/tracewatch/internal/traceback"

	llmshared "github.com/pebblecode/tracewatch/common/llm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tracewatch exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Agent.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	redactor, err := security.NewRedactor()
	if err != nil {
		return fmt.Errorf("building redactor: %w", err)
	}

	slog.InfoContext(ctx, "configuration loaded",
		"vcs_provider", cfg.VCS.Provider,
		"llm_provider", cfg.LLM.Provider,
		"github_token", security.MaskConfigValue("github_token", cfg.VCS.GitHubToken),
		"gitlab_token", security.MaskConfigValue("gitlab_token", cfg.VCS.GitLabToken),
		"llm_api_key", security.MaskConfigValue("llm_api_key", cfg.LLM.APIKey),
		"default_repo", cfg.Repos.DefaultRepo,
		"max_concurrent", cfg.Agent.MaxConcurrent,
	)

	vcsProvider, cloner, err := buildVCS(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building VCS provider: %w", err)
	}

	llmProvider, err := buildLLM(cfg, redactor)
	if err != nil {
		return fmt.Errorf("building LLM provider: %w", err)
	}
	if llmProvider == nil {
		slog.WarnContext(ctx, "no LLM provider configured; new-issue filing will fail closed")
	}

	cloneDir, err := os.MkdirTemp("", "tracewatch-clones-")
	if err != nil {
		return fmt.Errorf("creating clone cache directory: %w", err)
	}
	cache := clonecache.New(clonecache.Config{
		MaxAge:          cfg.CloneCache.MaxAge,
		MaxTotalSize:    cfg.CloneCache.MaxTotalSizeMB << 20,
		CleanupInterval: cfg.CloneCache.CleanupInterval,
	}, cloneDir, cloner)
	go cache.RunEvictionSweep(ctx)

	analyzer := codeanalyzer.New(cache, codeanalyzer.Config{
		MaxFiles:        cfg.Analysis.MaxFiles,
		ContextLines:    cfg.Analysis.ContextLines,
		IncludeFiles:    cfg.Analysis.IncludeFiles,
		MaxIncludeLines: cfg.Analysis.MaxIncludeLines,
	}, redactor)

	matcher := issuematch.New(vcsProvider, llmProvider, issuematch.Config{
		ConfidenceThreshold: cfg.Matching.ConfidenceThreshold,
		MaxSearchResults:    cfg.Matching.MaxSearchResults,
		SearchCacheTTL:      cfg.Matching.SearchCacheTTL,
		IncludeClosed:       cfg.Matching.IncludeClosed,
		Weights: issuematch.Weights{
			Type:     cfg.Matching.WeightType,
			Msg:      cfg.Matching.WeightMessage,
			Frames:   cfg.Matching.WeightFrames,
			Semantic: cfg.Matching.WeightSemantic,
		},
	})

	chatProvider := slack.New(cfg.Chat.BotToken, cfg.Chat.AppToken)

	handler := pipeline.New(
		pipeline.Config{
			ProcessingTimeout:   cfg.Agent.ProcessingTimeout,
			ConfidenceThreshold: cfg.Matching.ConfidenceThreshold,
			AllowedRepos:        cfg.Repos.AllowedRepos,
			ChannelRepos:        cfg.Repos.ChannelRepos,
			DefaultRepo:         cfg.Repos.DefaultRepo,
			ProcessingReaction:  "eyes",
			CompleteReaction:    "white_check_mark",
			ErrorReaction:       "x",
			DefaultLabels:       []string{"triaged"},
			MessageDedupTTL:     pipeline.DefaultConfig().MessageDedupTTL,
			FingerprintDedupTTL: pipeline.DefaultConfig().FingerprintDedupTTL,
		},
		chatProvider,
		vcsProvider,
		llmProvider,
		traceback.NewParser(),
		matcher,
		analyzer,
		redactor,
	)

	orchestrator := agent.New(chatProvider, handler, cache, agent.Config{
		MaxConcurrent:   cfg.Agent.MaxConcurrent,
		ShutdownTimeout: cfg.Agent.ShutdownTimeout,
	})

	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	slog.InfoContext(ctx, "tracewatch agent started", "vcs_provider", cfg.VCS.Provider, "llm_provider", cfg.LLM.Provider)

	<-ctx.Done()
	slog.InfoContext(context.Background(), "shutdown signal received, draining in-flight triage work")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Agent.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := orchestrator.Stop(stopCtx); err != nil {
		slog.Error("agent stop reported an error", "error", err)
	}
	return nil
}

// buildVCS constructs the configured VCS adapter and, where the adapter
// also satisfies clonecache.Cloner (both do), returns it as the cloner the
// shared clone cache uses.
func buildVCS(ctx context.Context, cfg config.Config) (provider.VCSProvider, clonecache.Cloner, error) {
	switch cfg.VCS.Provider {
	case "github":
		ghCli, err := security.NewSafeGHCli("")
		if err != nil {
			return nil, nil, fmt.Errorf("resolving gh CLI: %w", err)
		}
		adapter := github.New(ctx, cfg.VCS.GitHubToken, ghCli)
		return adapter, adapter, nil
	case "gitlab":
		baseURL := cfg.VCS.GitLabBaseURL
		if baseURL == "" {
			baseURL = "https://gitlab.com"
		}
		adapter, err := gitlab.New(cfg.VCS.GitLabToken, baseURL)
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter, nil
	default:
		return nil, nil, fmt.Errorf("unsupported VCS_PROVIDER %q", cfg.VCS.Provider)
	}
}

// buildLLM constructs the configured LLM adapter. It returns (nil, nil) for
// an unconfigured LLM provider, which pipeline.Handler treats as "fail
// closed on new-issue drafting" rather than a startup error: matching
// existing issues and replying to messages still works without one.
func buildLLM(cfg config.Config, redactor *security.Redactor) (provider.LLMProvider, error) {
	if !cfg.LLM.Enabled() {
		return nil, nil
	}

	switch cfg.LLM.Provider {
	case "openai", "anthropic":
		llmCfg := llmshared.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
		}
		if cfg.LLM.Provider == "openai" {
			return openai.New(llmCfg, redactor)
		}
		return anthropic.New(llmCfg, redactor)
	case "ollama":
		allowRemote := cfg.LLM.AllowRemoteOllama
		validate := func(rawURL string) error {
			if !security.ValidateOllamaURL(rawURL, allowRemote) {
				return fmt.Errorf("ollama host %q is not allowed (set ALLOW_REMOTE_OLLAMA_HOST to permit non-loopback hosts)", rawURL)
			}
			return nil
		}
		return ollama.New(ollama.Config{
			BaseURL: cfg.LLM.OllamaHost,
			Model:   cfg.LLM.Model,
		}, redactor, validate)
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLM.Provider)
	}
}

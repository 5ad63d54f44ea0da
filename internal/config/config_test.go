package config_test

import (
	"github.com/pebblecode/tracewatch/internal/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func validConfig() config.Config {
	return config.Config{
		Chat: config.ChatConfig{BotToken: "xoxb-test"},
		VCS:  config.VCSConfig{Provider: "github", GitHubToken: "ghp-test"},
		Matching: config.MatchingConfig{
			WeightType: 0.3, WeightMessage: 0.4, WeightFrames: 0.2, WeightSemantic: 0.1,
		},
		Agent: config.AgentConfig{MaxConcurrent: 5},
		Repos: config.RepoRoutingConfig{DefaultRepo: "owner/repo"},
	}
}

var _ = Describe("Config.Validate", func() {
	It("accepts a well-formed configuration", func() {
		Expect(validConfig().Validate()).To(Succeed())
	})

	It("rejects a missing chat token", func() {
		cfg := validConfig()
		cfg.Chat.BotToken = ""
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("rejects an unrecognized VCS provider", func() {
		cfg := validConfig()
		cfg.VCS.Provider = "bitbucket"
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("rejects a github provider with no token", func() {
		cfg := validConfig()
		cfg.VCS.GitHubToken = ""
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("rejects matcher weights that don't sum to 1", func() {
		cfg := validConfig()
		cfg.Matching.WeightType = 0.9
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("rejects a non-positive max_concurrent", func() {
		cfg := validConfig()
		cfg.Agent.MaxConcurrent = 0
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("rejects having neither a default repo nor channel repos", func() {
		cfg := validConfig()
		cfg.Repos.DefaultRepo = ""
		cfg.Repos.ChannelRepos = nil
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("accepts channel repos in place of a default repo", func() {
		cfg := validConfig()
		cfg.Repos.DefaultRepo = ""
		cfg.Repos.ChannelRepos = map[string]string{"C1": "owner/repo"}
		Expect(cfg.Validate()).To(Succeed())
	})
})

var _ = Describe("Load", func() {
	It("loads defaults and validates successfully given required env vars", func() {
		GinkgoT().Setenv("SLACK_BOT_TOKEN", "xoxb-test")
		GinkgoT().Setenv("VCS_PROVIDER", "github")
		GinkgoT().Setenv("GITHUB_TOKEN", "ghp-test")
		GinkgoT().Setenv("DEFAULT_REPO", "owner/repo")
		GinkgoT().Setenv("TRACEWATCH_ENV", "test")

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Agent.MaxConcurrent).To(Equal(5))
		Expect(cfg.Matching.ConfidenceThreshold).To(Equal(0.85))
	})

	It("fails when no chat token is configured", func() {
		GinkgoT().Setenv("SLACK_BOT_TOKEN", "")
		GinkgoT().Setenv("VCS_PROVIDER", "github")
		GinkgoT().Setenv("GITHUB_TOKEN", "ghp-test")
		GinkgoT().Setenv("DEFAULT_REPO", "owner/repo")
		GinkgoT().Setenv("TRACEWATCH_ENV", "test")

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})
})

package security_test

import (
	"github.com/pebblecode/tracewatch/internal/security"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Redactor", func() {
	It("replaces a GitHub PAT with the placeholder", func() {
		r, err := security.NewRedactor()
		Expect(err).NotTo(HaveOccurred())

		text := "here's my token: ghp_" + repeat("a", 36)
		redacted, err := r.Redact(text)
		Expect(err).NotTo(HaveOccurred())
		Expect(redacted).To(ContainSubstring("[REDACTED]"))
		Expect(redacted).NotTo(ContainSubstring("ghp_"))
	})

	It("leaves ordinary text untouched", func() {
		r, err := security.NewRedactor()
		Expect(err).NotTo(HaveOccurred())

		redacted, err := r.Redact("KeyError: 'foo' not found in dict")
		Expect(err).NotTo(HaveOccurred())
		Expect(redacted).To(Equal("KeyError: 'foo' not found in dict"))
	})

	It("compiles additional custom patterns alongside the defaults", func() {
		r, err := security.NewRedactor(struct {
			Name    string
			Pattern string
		}{Name: "Internal widget ID", Pattern: `WID-\d{6}`})
		Expect(err).NotTo(HaveOccurred())

		redacted, err := r.Redact("widget WID-123456 failed")
		Expect(err).NotTo(HaveOccurred())
		Expect(redacted).To(Equal("widget [REDACTED] failed"))
	})

	It("rejects an invalid custom pattern", func() {
		_, err := security.NewRedactor(struct {
			Name    string
			Pattern string
		}{Name: "broken", Pattern: `(unterminated`})
		Expect(err).To(HaveOccurred())
	})

	Describe("HasSecrets", func() {
		It("detects a secret without redacting", func() {
			r, err := security.NewRedactor()
			Expect(err).NotTo(HaveOccurred())
			Expect(r.HasSecrets("sk-ant-" + repeat("a", 40))).To(BeTrue())
		})

		It("reports false for secret-free text", func() {
			r, err := security.NewRedactor()
			Expect(err).NotTo(HaveOccurred())
			Expect(r.HasSecrets("nothing interesting here")).To(BeFalse())
		})
	})

	Describe("Scan", func() {
		It("previews matches without exposing them in full", func() {
			r, err := security.NewRedactor()
			Expect(err).NotTo(HaveOccurred())

			findings := r.Scan("key: ghp_" + repeat("b", 36))
			Expect(findings).NotTo(BeEmpty())
			for _, f := range findings {
				Expect(f.Preview).NotTo(ContainSubstring(repeat("b", 10)))
			}
		})
	})
})

var _ = Describe("SanitizeForLogging", func() {
	It("strips ANSI escape sequences", func() {
		Expect(security.SanitizeForLogging("\x1b[31mred\x1b[0m")).To(Equal("red"))
	})

	It("strips control characters but keeps newlines and tabs", func() {
		in := "line1\x00\nline2\ttabbed"
		Expect(security.SanitizeForLogging(in)).To(Equal("line1\nline2\ttabbed"))
	})

	It("passes through empty input", func() {
		Expect(security.SanitizeForLogging("")).To(Equal(""))
	})
})

var _ = Describe("MaskConfigValue", func() {
	It("masks a long sensitive value, keeping a prefix and suffix", func() {
		Expect(security.MaskConfigValue("GITHUB_TOKEN", "ghp_abcdefghijklmnop")).To(Equal("ghp_...mnop"))
	})

	It("fully masks a short sensitive value", func() {
		Expect(security.MaskConfigValue("api_key", "short")).To(Equal("***"))
	})

	It("leaves non-sensitive keys untouched", func() {
		Expect(security.MaskConfigValue("default_repo", "owner/repo")).To(Equal("owner/repo"))
	})
})

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

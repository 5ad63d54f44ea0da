package security_test

import (
	"github.com/pebblecode/tracewatch/internal/security"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ValidateRepoName", func() {
	It("accepts a well-formed owner/repo", func() {
		Expect(security.ValidateRepoName("acme/widgets")).To(BeTrue())
	})

	It("rejects an empty string", func() {
		Expect(security.ValidateRepoName("")).To(BeFalse())
	})

	It("rejects a name missing the owner segment", func() {
		Expect(security.ValidateRepoName("widgets")).To(BeFalse())
	})

	It("rejects a name carrying a shell metacharacter", func() {
		Expect(security.ValidateRepoName("acme/widgets; rm -rf /")).To(BeFalse())
	})

	It("rejects a name attempting path traversal", func() {
		Expect(security.ValidateRepoName("../../etc/passwd")).To(BeFalse())
	})
})

var _ = Describe("SanitizeForShell", func() {
	It("strips shell metacharacters", func() {
		Expect(security.SanitizeForShell("foo; rm -rf /")).To(Equal("foo rm -rf /"))
	})

	It("passes through ordinary text", func() {
		Expect(security.SanitizeForShell("owner/repo")).To(Equal("owner/repo"))
	})
})

var _ = Describe("ValidateOllamaURL", func() {
	It("allows localhost by name", func() {
		Expect(security.ValidateOllamaURL("http://localhost:11434", false)).To(BeTrue())
	})

	It("allows the loopback IP literal", func() {
		Expect(security.ValidateOllamaURL("http://127.0.0.1:11434", false)).To(BeTrue())
	})

	It("rejects a remote host by default", func() {
		Expect(security.ValidateOllamaURL("http://internal-ollama.example.com:11434", false)).To(BeFalse())
	})

	It("allows a remote host once opted in", func() {
		Expect(security.ValidateOllamaURL("http://internal-ollama.example.com:11434", true)).To(BeTrue())
	})

	It("rejects an empty URL", func() {
		Expect(security.ValidateOllamaURL("", false)).To(BeFalse())
	})

	It("rejects an unparseable URL", func() {
		Expect(security.ValidateOllamaURL("://bad", false)).To(BeFalse())
	})
})

var _ = Describe("RedactFilePaths", func() {
	It("strips the /home/<user>/ segment, keeping the rest of the path", func() {
		in := "File \"/home/alice/project/app/main.py\", line 10"
		Expect(security.RedactFilePaths(in)).To(Equal(`File "project/app/main.py", line 10`))
	})

	It("leaves text with no matching prefix untouched", func() {
		in := "File \"app/main.py\", line 10"
		Expect(security.RedactFilePaths(in)).To(Equal(in))
	})
})

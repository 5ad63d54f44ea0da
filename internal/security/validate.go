package security

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var repoNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)

// shellMetacharacters must never appear in a value that ends up as (or
// adjacent to) a shell command argument, even though SafeCmd itself never
// invokes a shell: this is defense in depth, not the primary control.
var shellMetacharacters = []rune{';', '|', '&', '`', '$', '(', ')', '{', '}', '<', '>', '\\', '\n', '\r', '\t', 0}

// allowedOllamaHosts is the SSRF allowlist for the default (non-remote) mode.
var allowedOllamaHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}

// ValidateRepoName reports whether repo matches "owner/repo" using only
// alphanumerics, underscores, hyphens, and periods, and contains no shell
// metacharacters.
func ValidateRepoName(repo string) bool {
	if repo == "" {
		return false
	}
	if containsShellMetacharacter(repo) {
		return false
	}
	return repoNamePattern.MatchString(repo)
}

func containsShellMetacharacter(s string) bool {
	for _, c := range shellMetacharacters {
		if strings.ContainsRune(s, c) {
			return true
		}
	}
	return false
}

// SanitizeForShell strips shell metacharacters from text as a
// defense-in-depth measure. It is not a substitute for argument-array
// execution (see SafeCmd), which is the primary control against injection.
func SanitizeForShell(text string) string {
	if text == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(string(shellMetacharacters), r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateOllamaURL reports whether rawURL is safe to contact as an Ollama
// backend. By default only localhost/loopback hosts are allowed; set
// allowRemote to true to permit any resolvable host (the operator's explicit,
// informed opt-in — see SPEC_FULL.md's Open Question on this toggle).
func ValidateOllamaURL(rawURL string, allowRemote bool) bool {
	if rawURL == "" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if allowedOllamaHosts[host] {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return allowRemote
}

var pathPrefixPattern = func(prefix string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `[^/\s]+/`)
}

var defaultRedactedPathPrefixes = []string{"/home/", "/Users/", "/root/", "/var/", "/tmp/", "/opt/"}

// RedactFilePaths strips the leading "/home/<user>/", "/Users/<user>/", etc.
// component from absolute paths embedded in text, leaving the
// project-relative remainder.
func RedactFilePaths(text string, basePaths ...string) string {
	if text == "" {
		return text
	}
	prefixes := defaultRedactedPathPrefixes
	if len(basePaths) > 0 {
		prefixes = basePaths
	}
	result := text
	for _, prefix := range prefixes {
		result = pathPrefixPattern(prefix).ReplaceAllString(result, "")
	}
	return result
}

var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)
var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// SanitizeForLogging strips ANSI escape codes and non-whitespace control
// characters, preventing log injection / terminal corruption from
// attacker-controlled text (e.g. a traceback embedding escape sequences).
func SanitizeForLogging(text string) string {
	if text == "" {
		return text
	}
	text = ansiEscapePattern.ReplaceAllString(text, "")
	text = controlCharPattern.ReplaceAllString(text, "")
	return text
}

var sensitiveConfigKeyMarkers = []string{"token", "key", "secret", "password", "credential", "api_key"}

// MaskConfigValue masks value if key looks sensitive (contains "token",
// "key", "secret", "password", "credential", or "api_key"), for safe
// inclusion in startup/config logging.
func MaskConfigValue(key, value string) string {
	lowerKey := strings.ToLower(key)
	sensitive := false
	for _, marker := range sensitiveConfigKeyMarkers {
		if strings.Contains(lowerKey, marker) {
			sensitive = true
			break
		}
	}
	if !sensitive {
		return value
	}
	if len(value) > 8 {
		return value[:4] + "..." + value[len(value)-4:]
	}
	return "***"
}

// Package faults defines the error taxonomy shared by every provider
// adapter and pipeline stage. Errors are categorized so the pipeline can
// decide, without knowing provider internals, whether to retry, surface a
// user-visible reply, or simply log and move on.
package faults

import "fmt"

// Category classifies a fault by how the pipeline should react to it.
type Category string

const (
	// CategoryInput covers malformed or unparseable user-supplied data.
	CategoryInput Category = "input"
	// CategoryExternal covers failures from chat/VCS/LLM backends.
	CategoryExternal Category = "external_service"
	// CategoryResource covers exhaustion of a bounded local resource
	// (clone cache full, worker pool saturated, token budget exceeded).
	CategoryResource Category = "resource"
	// CategorySafety covers redaction/validation rejections: secrets
	// detected, path traversal attempted, untrusted LLM output rejected.
	CategorySafety Category = "safety"
	// CategoryLifecycle covers orchestrator start/stop/shutdown faults.
	CategoryLifecycle Category = "lifecycle"
)

// Kind is a specific, stable fault identifier within a Category. Kinds are
// matched by pipeline code (e.g. to decide retry eligibility); never by
// parsing Error's message.
type Kind string

const (
	KindNoTraceback        Kind = "no_traceback"
	KindTracebackTruncated Kind = "traceback_truncated"

	KindChatSendFailed    Kind = "chat_send_failed"
	KindChatAuth          Kind = "chat_auth_failed"
	KindVCSAuth           Kind = "vcs_auth_failed"
	KindVCSRateLimited    Kind = "vcs_rate_limited"
	KindVCSNotFound       Kind = "vcs_not_found"
	KindVCSPermission     Kind = "vcs_permission_denied"
	KindVCSTimeout        Kind = "vcs_timeout"
	KindLLMRateLimited    Kind = "llm_rate_limited"
	KindLLMTimeout        Kind = "llm_timeout"
	KindLLMOutputInvalid  Kind = "llm_output_invalid"
	KindLLMAnalysisFailed Kind = "llm_analysis_failed"

	KindCloneCacheFull    Kind = "clone_cache_full"
	KindWorkerPoolSaturated Kind = "worker_pool_saturated"
	KindContextBudgetExceeded Kind = "context_budget_exceeded"

	KindSecretsDetected   Kind = "secrets_detected"
	KindPathTraversal     Kind = "path_traversal_attempted"
	KindInvalidRepoName   Kind = "invalid_repo_name"
	KindSSRFBlocked       Kind = "ssrf_blocked"
	KindRedactionFailure  Kind = "redaction_failure"

	KindShutdownTimeout Kind = "shutdown_timeout"
	KindCancelled       Kind = "cancelled"
	KindTimedOut        Kind = "timed_out"
)

var kindCategory = map[Kind]Category{
	KindNoTraceback:           CategoryInput,
	KindTracebackTruncated:    CategoryInput,
	KindChatSendFailed:        CategoryExternal,
	KindChatAuth:              CategoryExternal,
	KindVCSAuth:               CategoryExternal,
	KindVCSRateLimited:        CategoryExternal,
	KindVCSNotFound:           CategoryExternal,
	KindVCSPermission:         CategoryExternal,
	KindVCSTimeout:            CategoryExternal,
	KindLLMRateLimited:        CategoryExternal,
	KindLLMTimeout:            CategoryExternal,
	KindLLMOutputInvalid:      CategorySafety,
	KindLLMAnalysisFailed:     CategoryExternal,
	KindCloneCacheFull:        CategoryResource,
	KindWorkerPoolSaturated:   CategoryResource,
	KindContextBudgetExceeded: CategoryResource,
	KindSecretsDetected:       CategorySafety,
	KindPathTraversal:         CategorySafety,
	KindInvalidRepoName:       CategorySafety,
	KindSSRFBlocked:           CategorySafety,
	KindRedactionFailure:      CategorySafety,
	KindShutdownTimeout:       CategoryLifecycle,
	KindCancelled:             CategoryLifecycle,
	KindTimedOut:              CategoryLifecycle,
}

// Retryable kinds: transient external-service failures the agent orchestrator
// may retry with backoff. Everything else is terminal for the current message.
var retryableKinds = map[Kind]bool{
	KindVCSRateLimited: true,
	KindVCSTimeout:     true,
	KindLLMRateLimited: true,
	KindLLMTimeout:     true,
}

// Fault is a categorized error carrying both a user-safe summary and an
// internal detail that is safe to log (but never sent to chat verbatim,
// since it may embed upstream error text).
type Fault struct {
	Kind      Kind
	UserMsg   string // short, safe to show in a chat reply
	Detail    string // full detail, logged only
	Retryable bool
	Cause     error
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
	return string(f.Kind)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Category reports the Kind's handling category.
func (f *Fault) Category() Category { return kindCategory[f.Kind] }

// New builds a Fault, deriving Retryable from the Kind's default policy.
func New(kind Kind, userMsg string, cause error) *Fault {
	f := &Fault{Kind: kind, UserMsg: userMsg, Retryable: retryableKinds[kind], Cause: cause}
	if cause != nil {
		f.Detail = cause.Error()
	}
	return f
}

// Wrap builds a Fault carrying extra logged detail beyond the cause's own message.
func Wrap(kind Kind, userMsg, detail string, cause error) *Fault {
	f := New(kind, userMsg, cause)
	if detail != "" {
		f.Detail = detail
	}
	return f
}

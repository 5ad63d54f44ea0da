// Package pipeline implements the per-message triage state machine:
// parse a traceback out of a chat message, search for a matching issue,
// and either link the existing one or draft and file a new one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pebblecode/tracewatch/internal/codeanalyzer"
	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/issuematch"
	"github.com/pebblecode/tracewatch/internal/logging"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider"
	"github.com/pebblecode/tracewatch/internal/telemetry"
	"github.com/pebblecode/tracewatch/internal/traceback"
)

// Redactor is the subset of security.Redactor the pipeline needs to
// sanitize text before it reaches an LLM or a chat reply.
type Redactor interface {
	Redact(text string) (string, error)
}

// Handler implements the MessageHandler state machine described for the
// agent: one Handle call per inbound ChatMessage, with no state carried
// between calls except the dedup registries.
type Handler struct {
	config Config

	chat     provider.ChatProvider
	vcs      provider.VCSProvider
	llm      provider.LLMProvider // may be nil: disables semantic matching and analysis
	parser   *traceback.Parser
	matcher  *issuematch.Matcher
	analyzer *codeanalyzer.Analyzer
	redactor Redactor

	messageSeen  *ttlSet
	fingerprints *ttlMap
}

// New builds a Handler. llm may be nil, in which case messages that would
// otherwise reach LLM_ANALYZE fail closed into a REPLYING_ERROR outcome.
func New(
	config Config,
	chat provider.ChatProvider,
	vcs provider.VCSProvider,
	llm provider.LLMProvider,
	parser *traceback.Parser,
	matcher *issuematch.Matcher,
	analyzer *codeanalyzer.Analyzer,
	redactor Redactor,
) *Handler {
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 300 * time.Second
	}
	if config.MessageDedupTTL <= 0 {
		config.MessageDedupTTL = 5 * time.Minute
	}
	if config.FingerprintDedupTTL <= 0 {
		config.FingerprintDedupTTL = 5 * time.Minute
	}
	return &Handler{
		config:       config,
		chat:         chat,
		vcs:          vcs,
		llm:          llm,
		parser:       parser,
		matcher:      matcher,
		analyzer:     analyzer,
		redactor:     redactor,
		messageSeen:  newTTLSet(config.MessageDedupTTL),
		fingerprints: newTTLMap(config.FingerprintDedupTTL),
	}
}

// Handle runs one ChatMessage through the full triage state machine and
// returns its terminal outcome. It never returns an error for ordinary
// triage failures (those become ResultError with a logged cause); it
// returns an error only for a failure to even begin processing (e.g. a
// dedup replay, which the caller should treat as a silent no-op).
func (h *Handler) Handle(ctx context.Context, msg model.ChatMessage) (model.ProcessingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.ProcessingTimeout)
	defer cancel()

	ctx = logging.WithLogFields(ctx, logging.LogFields{
		Component:     "pipeline",
		ChannelID:     msg.ChannelID,
		MessageID:     msg.MessageID,
		CorrelationID: nextCorrelationID(),
	})

	dedupKey := msg.ChannelID + "\x00" + msg.MessageID
	if h.messageSeen.CheckAndSet(dedupKey) {
		return "", errDuplicateMessage
	}

	repo, ok := h.config.resolveRepo(msg.ChannelID)
	if !ok {
		h.reply(ctx, msg, h.config.ErrorReaction, "This channel isn't configured for a repository I can file issues against.")
		return model.ResultError, nil
	}

	h.addReaction(ctx, msg, h.config.ProcessingReaction)
	result := h.process(ctx, msg, repo)
	h.settleReactions(ctx, msg, result)
	telemetry.RecordMessageProcessed(ctx, string(result))
	return result, nil
}

var errDuplicateMessage = errors.New("duplicate message, already processed")

// contextFault reports whether ctx has already ended due to the parent being
// canceled or the processing_timeout deadline expiring. These are terminal,
// silent-beyond-reaction faults (spec's Lifecycle category): the caller
// shouldn't bother sending a chat reply into a context that's already gone.
func contextFault(ctx context.Context) *faults.Fault {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return nil
	case errors.Is(cause, context.DeadlineExceeded):
		return faults.New(faults.KindTimedOut, "", cause)
	case errors.Is(cause, context.Canceled):
		return faults.New(faults.KindCancelled, "", cause)
	default:
		return nil
	}
}

func (h *Handler) process(ctx context.Context, msg model.ChatMessage, repo string) model.ProcessingResult {
	ctx = logging.WithLogFields(ctx, logging.LogFields{Repo: repo})
	telemetry.RecordStateTransition(ctx, "parsing")

	tb, err := h.parser.Parse(msg.Text)
	if err != nil {
		telemetry.RecordStateTransition(ctx, "no_traceback")
		return model.ResultNoTraceback
	}
	ctx = logging.WithLogFields(ctx, logging.LogFields{ExceptionType: tb.ExceptionType})

	telemetry.RecordStateTransition(ctx, "searching")
	matches, err := h.matcher.FindMatches(ctx, repo, tb)
	if err != nil {
		if cf := contextFault(ctx); cf != nil {
			h.logFault(ctx, "issue search aborted", cf)
			return model.ResultError
		}
		h.logFault(ctx, "issue search failed", err)
		h.replyError(ctx, msg, err)
		return model.ResultError
	}

	if best, ok := bestMatch(matches); ok && best.Confidence >= h.config.ConfidenceThreshold {
		telemetry.RecordStateTransition(ctx, "matched")
		h.replyLink(ctx, msg, best)
		return model.ResultExistingIssueLinked
	}

	signature := tb.Signature()
	if url, ok := h.fingerprints.Get(repo + "\x00" + signature); ok {
		h.replyLinkURL(ctx, msg, url, "already filed moments ago")
		return model.ResultExistingIssueLinked
	}

	telemetry.RecordStateTransition(ctx, "analyzing")
	issue, err := h.createIssue(ctx, repo, tb)
	if err != nil {
		if cf := contextFault(ctx); cf != nil {
			h.logFault(ctx, "issue creation aborted", cf)
			return model.ResultError
		}
		h.logFault(ctx, "issue creation failed", err)
		h.replyError(ctx, msg, err)
		return model.ResultError
	}

	h.fingerprints.Put(repo+"\x00"+signature, issue.Issue.URL)
	telemetry.RecordStateTransition(ctx, "creating")
	h.replyNew(ctx, msg, issue)
	return model.ResultNewIssueCreated
}

// createdIssue bundles the filed issue with the analysis that produced it,
// since the reply needs both the URL and the one-line root cause.
type createdIssue struct {
	Issue    model.Issue
	Analysis model.ErrorAnalysis
}

func (h *Handler) createIssue(ctx context.Context, repo string, tb model.ParsedTraceback) (createdIssue, error) {
	if h.llm == nil {
		return createdIssue{}, faults.New(faults.KindLLMAnalysisFailed, "no language model is configured", nil)
	}

	codeContext, err := h.analyzer.Analyze(ctx, repo, tb, h.llm.MaxContextTokens())
	if err != nil {
		return createdIssue{}, err
	}

	analysis, err := h.llm.AnalyzeError(ctx, tb, codeContext, "")
	if err != nil {
		return createdIssue{}, faults.New(faults.KindLLMAnalysisFailed, "the language model could not analyze this error", err)
	}

	title, err := h.llm.GenerateIssueTitle(ctx, tb, analysis)
	if err != nil || title == "" {
		title = fmt.Sprintf("%s: %s", tb.ExceptionType, truncate(tb.ExceptionMessage, 72))
	}
	if len(title) > 80 {
		title = title[:80]
	}

	body, err := h.llm.GenerateIssueBody(ctx, tb, analysis, codeContext)
	if err != nil || body == "" {
		body = fallbackIssueBody(tb, analysis)
	}
	if len(body) > 10000 {
		body = body[:10000]
	}

	redactedBody, err := h.redactor.Redact(body)
	if err != nil {
		return createdIssue{}, faults.New(faults.KindRedactionFailure, "could not safely redact the issue body", err)
	}

	issue, err := h.vcs.CreateIssue(ctx, repo, model.IssueCreate{
		Title:  title,
		Body:   redactedBody,
		Labels: h.config.DefaultLabels,
	})
	if err != nil {
		return createdIssue{}, faults.Wrap(faults.KindVCSTimeout, "could not file an issue", err.Error(), err)
	}

	return createdIssue{Issue: issue, Analysis: analysis}, nil
}

func bestMatch(matches []model.IssueMatch) (model.IssueMatch, bool) {
	if len(matches) == 0 {
		return model.IssueMatch{}, false
	}
	return matches[0], true
}

func fallbackIssueBody(tb model.ParsedTraceback, analysis model.ErrorAnalysis) string {
	body := fmt.Sprintf("**%s**\n\n%s\n\n```\n%s\n```", tb.ExceptionType, analysis.Explanation, tb.RawText)
	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

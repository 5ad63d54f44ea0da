package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/model"
)

func (h *Handler) addReaction(ctx context.Context, msg model.ChatMessage, reaction string) {
	if reaction == "" {
		return
	}
	if err := h.chat.AddReaction(ctx, msg.ChannelID, msg.MessageID, reaction); err != nil {
		slog.WarnContext(ctx, "add reaction failed", "reaction", reaction, "error", err)
	}
}

func (h *Handler) removeReaction(ctx context.Context, msg model.ChatMessage, reaction string) {
	if reaction == "" {
		return
	}
	if err := h.chat.RemoveReaction(ctx, msg.ChannelID, msg.MessageID, reaction); err != nil {
		slog.WarnContext(ctx, "remove reaction failed", "reaction", reaction, "error", err)
	}
}

// settleReactions applies the terminal-transition reaction discipline:
// remove the processing reaction, then add complete or error. A Cancelled
// or TimedOut message reaches here with an already-expired ctx (the
// processing_timeout deadline or a shutdown cancellation), so the reaction
// calls detach from it first rather than failing outright.
func (h *Handler) settleReactions(ctx context.Context, msg model.ChatMessage, result model.ProcessingResult) {
	ctx = detachIfExpired(ctx)
	h.removeReaction(ctx, msg, h.config.ProcessingReaction)
	if result == model.ResultError {
		h.addReaction(ctx, msg, h.config.ErrorReaction)
	} else {
		h.addReaction(ctx, msg, h.config.CompleteReaction)
	}
}

// detachIfExpired returns ctx unchanged if it's still live, or a short-lived
// context carrying its values but none of its cancellation if it has
// already ended. Cancelled/TimedOut messages are "terminal and silent
// beyond reaction update" (spec's Lifecycle propagation rule): the reaction
// swap still has to go out even though the triage work itself was aborted.
func detachIfExpired(ctx context.Context) context.Context {
	if ctx.Err() == nil {
		return ctx
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	context.AfterFunc(detached, cancel)
	return detached
}

func (h *Handler) reply(ctx context.Context, msg model.ChatMessage, reaction, text string) {
	_, err := h.chat.SendReply(ctx, model.ChatReply{ChannelID: msg.ChannelID, ThreadID: threadOf(msg), Text: text})
	if err != nil {
		slog.ErrorContext(ctx, "send reply failed", "error", err)
	}
	h.addReaction(ctx, msg, reaction)
}

func (h *Handler) replyLink(ctx context.Context, msg model.ChatMessage, match model.IssueMatch) {
	reasons := strings.Join(topReasons(match.MatchReasons, 2), "; ")
	text := fmt.Sprintf("Looks like this was already reported: %s\n%s (%s)", match.Issue.URL, match.Issue.Title, match.Issue.State)
	if reasons != "" {
		text += fmt.Sprintf("\n%s", reasons)
	}
	h.reply(ctx, msg, "", text)
}

func (h *Handler) replyLinkURL(ctx context.Context, msg model.ChatMessage, url, note string) {
	text := fmt.Sprintf("Looks like this was already reported: %s", url)
	if note != "" {
		text += fmt.Sprintf(" (%s)", note)
	}
	h.reply(ctx, msg, "", text)
}

func (h *Handler) replyNew(ctx context.Context, msg model.ChatMessage, created createdIssue) {
	badge := severityBadge(created.Analysis.Severity)
	rootCause := created.Analysis.RootCause
	if rootCause == "" {
		rootCause = "unable to determine root cause automatically"
	}
	text := fmt.Sprintf("Filed a new issue: %s\n%s %s", created.Issue.URL, badge, rootCause)
	h.reply(ctx, msg, "", text)
}

func (h *Handler) replyError(ctx context.Context, msg model.ChatMessage, err error) {
	userMsg := "Something went wrong while triaging this traceback."
	var f *faults.Fault
	if errors.As(err, &f) && f.UserMsg != "" {
		userMsg = f.UserMsg
	}
	h.reply(ctx, msg, "", userMsg)
}

func (h *Handler) logFault(ctx context.Context, summary string, err error) {
	var f *faults.Fault
	if errors.As(err, &f) {
		slog.ErrorContext(ctx, summary, "kind", f.Kind, "detail", f.Detail, "retryable", f.Retryable)
		return
	}
	slog.ErrorContext(ctx, summary, "error", err)
}

func threadOf(msg model.ChatMessage) string {
	if msg.ThreadID != "" {
		return msg.ThreadID
	}
	return msg.MessageID
}

func topReasons(reasons []string, n int) []string {
	if len(reasons) <= n {
		return reasons
	}
	return reasons[:n]
}

func severityBadge(sev model.Severity) string {
	switch sev {
	case model.SeverityCritical:
		return "[critical]"
	case model.SeverityHigh:
		return "[high]"
	case model.SeverityMedium:
		return "[medium]"
	case model.SeverityLow:
		return "[low]"
	default:
		return "[unknown]"
	}
}

// Package logging wires log/slog up with trace-context enrichment, matching
// the rest of this codebase's logging conventions: a JSON handler in
// production, a text handler in development, both wrapped to pull trace IDs
// and request-scoped fields out of context automatically.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/pebblecode/tracewatch/internal/config"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// Setup installs a process-wide default slog logger appropriate for cfg's
// environment: OTel-bridged structured logs in production when OTel is
// configured, JSON to stdout in production otherwise, and a readable text
// handler in development.
func Setup(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "development" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case cfg.Env == "production" && cfg.OTel.Enabled():
		handler = otelslog.NewHandler(cfg.OTel.ServiceName, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	case cfg.Env == "production":
		handler = NewTraceHandler(slog.NewJSONHandler(os.Stdout, opts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(os.Stdout, opts))
	}

	slog.SetDefault(slog.New(handler))
}

// TraceHandler wraps an slog.Handler to inject OTel trace/span IDs and
// request-scoped LogFields pulled from the record's context.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	fields := GetLogFields(ctx)
	if fields.Repo != "" {
		r.AddAttrs(slog.String("repo", fields.Repo))
	}
	if fields.ChannelID != "" {
		r.AddAttrs(slog.String("channel_id", fields.ChannelID))
	}
	if fields.MessageID != "" {
		r.AddAttrs(slog.String("message_id", fields.MessageID))
	}
	if fields.ExceptionType != "" {
		r.AddAttrs(slog.String("exception_type", fields.ExceptionType))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	if fields.CorrelationID != "" {
		r.AddAttrs(slog.String("correlation_id", fields.CorrelationID))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

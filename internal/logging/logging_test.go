package logging_test

import (
	"context"
	"log/slog"

	"github.com/pebblecode/tracewatch/internal/logging"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// capturingHandler records every record it's handed, so tests can inspect
// the attributes TraceHandler injected without a real sink.
type capturingHandler struct {
	records []slog.Record
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(name string) slog.Handler       { return h }

func attr(r slog.Record, key string) (string, bool) {
	var value string
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			value = a.Value.String()
			found = true
			return false
		}
		return true
	})
	return value, found
}

var _ = Describe("LogFields", func() {
	It("merges new non-empty fields over existing ones", func() {
		ctx := logging.WithLogFields(context.Background(), logging.LogFields{Repo: "acme/widgets", ChannelID: "C1"})
		ctx = logging.WithLogFields(ctx, logging.LogFields{ChannelID: "C2", MessageID: "M1"})

		fields := logging.GetLogFields(ctx)
		Expect(fields.Repo).To(Equal("acme/widgets"))
		Expect(fields.ChannelID).To(Equal("C2"))
		Expect(fields.MessageID).To(Equal("M1"))
	})

	It("returns a zero value when no fields were ever attached", func() {
		Expect(logging.GetLogFields(context.Background())).To(Equal(logging.LogFields{}))
	})
})

var _ = Describe("Truncate", func() {
	It("leaves short strings untouched", func() {
		Expect(logging.Truncate("short", 10)).To(Equal("short"))
	})

	It("truncates and appends an ellipsis past the limit", func() {
		Expect(logging.Truncate("abcdefghij", 5)).To(Equal("abcde..."))
	})
})

var _ = Describe("TraceHandler", func() {
	It("injects request-scoped log fields as record attributes", func() {
		inner := &capturingHandler{}
		handler := logging.NewTraceHandler(inner)

		ctx := logging.WithLogFields(context.Background(), logging.LogFields{
			Repo:          "acme/widgets",
			ChannelID:     "C1",
			MessageID:     "M1",
			ExceptionType: "KeyError",
			Component:     "pipeline",
			CorrelationID: "123",
		})

		record := slog.Record{Message: "triage failed"}
		Expect(handler.Handle(ctx, record)).To(Succeed())

		Expect(inner.records).To(HaveLen(1))
		got := inner.records[0]

		repo, ok := attr(got, "repo")
		Expect(ok).To(BeTrue())
		Expect(repo).To(Equal("acme/widgets"))

		channel, ok := attr(got, "channel_id")
		Expect(ok).To(BeTrue())
		Expect(channel).To(Equal("C1"))

		correlation, ok := attr(got, "correlation_id")
		Expect(ok).To(BeTrue())
		Expect(correlation).To(Equal("123"))
	})

	It("adds no fields when the context carries none", func() {
		inner := &capturingHandler{}
		handler := logging.NewTraceHandler(inner)

		Expect(handler.Handle(context.Background(), slog.Record{Message: "hello"})).To(Succeed())

		_, ok := attr(inner.records[0], "repo")
		Expect(ok).To(BeFalse())
	})
})

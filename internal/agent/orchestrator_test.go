package agent_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pebblecode/tracewatch/internal/agent"
	"github.com/pebblecode/tracewatch/internal/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeChat struct {
	connected int32
	messages  chan model.ChatMessage
	errs      chan error
}

func newFakeChat() *fakeChat {
	return &fakeChat{messages: make(chan model.ChatMessage, 8), errs: make(chan error, 1)}
}

func (f *fakeChat) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connected, 1)
	return nil
}
func (f *fakeChat) Disconnect(ctx context.Context) error {
	atomic.AddInt32(&f.connected, -1)
	return nil
}
func (f *fakeChat) Listen(ctx context.Context) (<-chan model.ChatMessage, <-chan error) {
	return f.messages, f.errs
}
func (f *fakeChat) SendReply(ctx context.Context, reply model.ChatReply) (string, error) {
	return "", nil
}
func (f *fakeChat) AddReaction(ctx context.Context, channelID, messageID, reaction string) error {
	return nil
}
func (f *fakeChat) RemoveReaction(ctx context.Context, channelID, messageID, reaction string) error {
	return nil
}

type countingHandler struct {
	mu      sync.Mutex
	handled int
	block   chan struct{}
}

func (h *countingHandler) Handle(ctx context.Context, msg model.ChatMessage) (model.ProcessingResult, error) {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return model.ResultError, ctx.Err()
		}
	}
	h.mu.Lock()
	h.handled++
	h.mu.Unlock()
	return model.ResultNoTraceback, nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled
}

var _ = Describe("Agent", func() {
	It("dispatches inbound messages to the handler and stops cleanly", func() {
		chat := newFakeChat()
		handler := &countingHandler{}
		a := agent.New(chat, handler, nil, agent.DefaultConfig())

		Expect(a.Start(context.Background())).To(Succeed())
		chat.messages <- model.ChatMessage{ChannelID: "C1", MessageID: "m1"}
		chat.messages <- model.ChatMessage{ChannelID: "C1", MessageID: "m2"}

		Eventually(handler.count).Should(Equal(2))

		Expect(a.Stop(context.Background())).To(Succeed())
		Expect(chat.connected).To(Equal(int32(0)))
	})

	It("is idempotent on Stop", func() {
		chat := newFakeChat()
		handler := &countingHandler{}
		a := agent.New(chat, handler, nil, agent.DefaultConfig())
		Expect(a.Start(context.Background())).To(Succeed())
		Expect(a.Stop(context.Background())).To(Succeed())
		Expect(a.Stop(context.Background())).To(Succeed())
	})

	It("bounds concurrency to max_concurrent and still drains after shutdown waits", func() {
		chat := newFakeChat()
		block := make(chan struct{})
		handler := &countingHandler{block: block}
		cfg := agent.DefaultConfig()
		cfg.MaxConcurrent = 2
		cfg.ShutdownTimeout = 50 * time.Millisecond
		a := agent.New(chat, handler, nil, cfg)

		Expect(a.Start(context.Background())).To(Succeed())
		for i := 0; i < 3; i++ {
			chat.messages <- model.ChatMessage{ChannelID: "C1", MessageID: "m"}
		}

		// ShutdownTimeout is short and handlers are blocked, so Stop should
		// still return (abandoning the stuck workers) rather than hang.
		done := make(chan struct{})
		go func() {
			a.Stop(context.Background())
			close(done)
		}()
		Eventually(done, 2*time.Second).Should(BeClosed())
		close(block)
	})
})

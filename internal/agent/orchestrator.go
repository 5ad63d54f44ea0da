// Package agent owns the running lifecycle of a triage bot: the chat
// connection, a bounded pool of pipeline workers, and graceful shutdown.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pebblecode/tracewatch/internal/clonecache"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/provider"
)

// Config controls the worker pool size and shutdown behavior. Pipeline
// policy (repo routing, reactions, dedup windows) lives in pipeline.Config.
type Config struct {
	MaxConcurrent   int
	ShutdownTimeout time.Duration
}

// DefaultConfig matches the distilled spec's stated defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 5, ShutdownTimeout: 30 * time.Second}
}

// Handler is the subset of pipeline.Handler the orchestrator dispatches
// onto workers; declared locally so tests can substitute a stub.
type Handler interface {
	Handle(ctx context.Context, msg model.ChatMessage) (model.ProcessingResult, error)
}

// Agent owns a chat connection, a message pipeline, and the clone cache
// the pipeline's code analyzer draws on, dispatching inbound messages onto
// a bounded pool of worker goroutines.
type Agent struct {
	chat    provider.ChatProvider
	handler Handler
	cache   *clonecache.Cache
	config  Config

	sem chan struct{}

	mu          sync.Mutex
	running     bool
	drainCancel context.CancelFunc // stops reading/dispatching new messages
	workCancel  context.CancelFunc // force-cancels in-flight workers; only called after ShutdownTimeout
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// New builds an Agent. cache may be nil if the pipeline's analyzer never
// clones repositories (e.g. in a configuration with no VCS provider).
func New(chat provider.ChatProvider, handler Handler, cache *clonecache.Cache, config Config) *Agent {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	return &Agent{
		chat:    chat,
		handler: handler,
		cache:   cache,
		config:  config,
		sem:     make(chan struct{}, config.MaxConcurrent),
	}
}

// Start connects to the chat provider and spawns the drainer that
// dispatches inbound messages onto the worker pool. It returns once the
// connection is established; the drainer itself runs in the background
// until Stop is called or the chat stream closes permanently.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	drainCtx, drainCancel := context.WithCancel(ctx)
	// Workers intentionally do NOT derive from ctx (or from drainCtx): ctx
	// is typically a process-lifetime signal context that's already Done by
	// the time Stop runs, which would give in-flight workers zero grace
	// period instead of the full ShutdownTimeout. workCancel is invoked only
	// once that timeout elapses.
	workCtx, workCancel := context.WithCancel(context.Background())
	a.drainCancel = drainCancel
	a.workCancel = workCancel
	a.mu.Unlock()

	if err := a.chat.Connect(drainCtx); err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		drainCancel()
		workCancel()
		return fmt.Errorf("connecting chat provider: %w", err)
	}

	messages, errs := a.chat.Listen(drainCtx)

	a.wg.Add(1)
	go a.drain(drainCtx, workCtx, messages, errs)

	slog.InfoContext(ctx, "agent started", "max_concurrent", a.config.MaxConcurrent)
	return nil
}

// drain reads inbound messages until the channel closes, dispatching each
// onto a worker goroutine gated by the semaphore. Backpressure is implicit:
// when the pool is saturated, drain blocks on the semaphore send before
// reading the next message. drainCtx governs reading/dispatching; workCtx
// (a separate, longer-lived context) is what each dispatched worker runs
// under, so stopping the drain doesn't also abort in-flight work.
func (a *Agent) drain(drainCtx, workCtx context.Context, messages <-chan model.ChatMessage, errs <-chan error) {
	defer a.wg.Done()

	for {
		select {
		case <-drainCtx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				slog.ErrorContext(drainCtx, "chat stream error", "error", err)
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case a.sem <- struct{}{}:
			case <-drainCtx.Done():
				return
			}
			a.wg.Add(1)
			go a.work(workCtx, msg)
		}
	}
}

func (a *Agent) work(ctx context.Context, msg model.ChatMessage) {
	defer a.wg.Done()
	defer func() { <-a.sem }()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered while handling message", "panic", r, "message_id", msg.MessageID)
		}
	}()

	if _, err := a.handler.Handle(ctx, msg); err != nil {
		slog.DebugContext(ctx, "message not processed", "error", err, "message_id", msg.MessageID)
	}
}

// Stop gracefully shuts the agent down: new messages stop being dispatched
// immediately (the drainer's context is canceled), in-flight workers get up
// to ShutdownTimeout to finish, then remaining work is abandoned, the chat
// connection is closed, and the clone cache is swept. Idempotent.
func (a *Agent) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		if !a.running {
			a.mu.Unlock()
			return
		}
		drainCancel := a.drainCancel
		workCancel := a.workCancel
		a.running = false
		a.mu.Unlock()

		// Stop accepting/dispatching new messages immediately. In-flight
		// workers keep running on workCtx, untouched, until they finish or
		// the shutdown timeout below forces them to stop.
		drainCancel()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(a.config.ShutdownTimeout):
			slog.WarnContext(ctx, "shutdown timeout exceeded, abandoning in-flight workers")
			workCancel()
			<-done
		}
		workCancel()

		if err := a.chat.Disconnect(ctx); err != nil {
			slog.ErrorContext(ctx, "chat disconnect failed", "error", err)
			stopErr = err
		}

		if a.cache != nil {
			a.cache.Sweep()
		}

		slog.InfoContext(ctx, "agent stopped")
	})
	return stopErr
}

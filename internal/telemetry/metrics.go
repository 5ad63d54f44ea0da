package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// instruments bundles every counter/histogram the agent emits. The package
// keeps one atomic pointer to the active set so Record* calls work whether
// or not telemetry.Setup has run: before Setup (or when OTel isn't
// configured) they're backed by the no-op meter, so instrumentation never
// has to be guarded by a nil check at the call site.
type instruments struct {
	messagesProcessed metric.Int64Counter
	stateTransitions  metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	redactions        metric.Int64Counter
	retries           metric.Int64Counter
	rateLimits        metric.Int64Counter
	timeouts          metric.Int64Counter
	matchConfidence   metric.Float64Histogram
	externalLatency   metric.Float64Histogram
}

var current atomic.Pointer[instruments]

func init() {
	inst, err := buildInstruments(noop.NewMeterProvider().Meter("tracewatch"))
	if err != nil {
		panic(err) // the no-op meter never rejects an instrument
	}
	current.Store(inst)
}

func buildInstruments(m metric.Meter) (*instruments, error) {
	messagesProcessed, err := m.Int64Counter("tracewatch.messages_processed",
		metric.WithDescription("Chat messages run through the triage pipeline, by terminal result"))
	if err != nil {
		return nil, err
	}
	stateTransitions, err := m.Int64Counter("tracewatch.state_transitions",
		metric.WithDescription("Pipeline state-machine transitions"))
	if err != nil {
		return nil, err
	}
	cacheHits, err := m.Int64Counter("tracewatch.clone_cache.hits",
		metric.WithDescription("Clone cache lookups served from an existing, unexpired clone"))
	if err != nil {
		return nil, err
	}
	cacheMisses, err := m.Int64Counter("tracewatch.clone_cache.misses",
		metric.WithDescription("Clone cache lookups that required cloning the repository"))
	if err != nil {
		return nil, err
	}
	redactions, err := m.Int64Counter("tracewatch.redactions",
		metric.WithDescription("Secret patterns matched and redacted before reaching an LLM or chat reply"))
	if err != nil {
		return nil, err
	}
	retries, err := m.Int64Counter("tracewatch.external_calls.retries",
		metric.WithDescription("Retryable external-call failures observed"))
	if err != nil {
		return nil, err
	}
	rateLimits, err := m.Int64Counter("tracewatch.external_calls.rate_limits",
		metric.WithDescription("External calls rejected for rate limiting"))
	if err != nil {
		return nil, err
	}
	timeouts, err := m.Int64Counter("tracewatch.external_calls.timeouts",
		metric.WithDescription("External calls that timed out"))
	if err != nil {
		return nil, err
	}
	matchConfidence, err := m.Float64Histogram("tracewatch.match_confidence",
		metric.WithDescription("Confidence score of the winning issue match, when one clears the threshold"))
	if err != nil {
		return nil, err
	}
	externalLatency, err := m.Float64Histogram("tracewatch.external_call.duration",
		metric.WithDescription("External call latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &instruments{
		messagesProcessed: messagesProcessed,
		stateTransitions:  stateTransitions,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		redactions:        redactions,
		retries:           retries,
		rateLimits:        rateLimits,
		timeouts:          timeouts,
		matchConfidence:   matchConfidence,
		externalLatency:   externalLatency,
	}, nil
}

// setMeterProvider swaps the package's active instruments over to ones
// backed by provider. Called once from Setup when OTel is configured.
func setMeterProvider(provider metric.MeterProvider) error {
	inst, err := buildInstruments(provider.Meter("tracewatch"))
	if err != nil {
		return err
	}
	current.Store(inst)
	return nil
}

func active() *instruments { return current.Load() }

// RecordMessageProcessed counts one Handle call reaching a terminal
// ProcessingResult.
func RecordMessageProcessed(ctx context.Context, result string) {
	active().messagesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStateTransition counts the pipeline entering a named state, mirroring
// the triage state machine (PARSING, SEARCHING, ANALYZING, CREATING, ...).
func RecordStateTransition(ctx context.Context, state string) {
	active().stateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordCacheHit counts a clonecache.Acquire served from an existing clone.
func RecordCacheHit(ctx context.Context, repo string) {
	active().cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("repo", repo)))
}

// RecordCacheMiss counts a clonecache.Acquire that had to clone repo.
func RecordCacheMiss(ctx context.Context, repo string) {
	active().cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("repo", repo)))
}

// RecordRedaction counts one secret pattern matching during a Redact/Scan
// pass, tagged by the pattern's human-readable name.
func RecordRedaction(ctx context.Context, patternName string) {
	active().redactions.Add(ctx, 1, metric.WithAttributes(attribute.String("pattern", patternName)))
}

// RecordRetry counts a retryable failure observed from provider (github,
// gitlab, openai, anthropic, ollama).
func RecordRetry(ctx context.Context, provider string) {
	active().retries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordRateLimit counts provider rejecting a call for rate limiting.
func RecordRateLimit(ctx context.Context, provider string) {
	active().rateLimits.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordTimeout counts a call to provider that timed out.
func RecordTimeout(ctx context.Context, provider string) {
	active().timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordMatchConfidence records the winning issue match's confidence score.
func RecordMatchConfidence(ctx context.Context, confidence float64) {
	active().matchConfidence.Record(ctx, confidence)
}

// RecordExternalCall records one external call's latency against provider
// (github, gitlab, openai, anthropic, ollama), tagged with the operation
// name and whether it succeeded.
func RecordExternalCall(ctx context.Context, provider, operation string, duration time.Duration, err error) {
	active().externalLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	))
}

// ABOUTME: Tests for GraphNodeRunner's cache/retry/guardrail policy.
package runner

import (
	"context"
	"testing"
	"time"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/exec"
	"github.com/2389-research/graphrun/graph"
)

type fakeExecutor struct {
	typ     core.NodeType
	results []core.NodeResult
	errs    []error
	calls   int
}

func (f *fakeExecutor) Type() core.NodeType { return f.typ }

func (f *fakeExecutor) Execute(_ context.Context, _ *graph.NodeDefinition, _ graph.Config, _ *core.NodeContext) (core.NodeResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return core.NodeResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

func newRunner(e exec.NodeExecutor) *GraphNodeRunner {
	reg := exec.NewRegistry()
	reg.Register(e)
	return &GraphNodeRunner{Registry: reg}
}

func TestRunNodeSucceedsFirstTry(t *testing.T) {
	fe := &fakeExecutor{typ: core.NodeLLM, results: []core.NodeResult{{Output: "ok"}}}
	r := newRunner(fe)
	node := &graph.NodeDefinition{ID: "n1", Type: core.NodeLLM}

	outcome, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, &core.NodeContext{})
	if err != nil {
		t.Fatalf("RunNode: %v", err)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", outcome.Attempts)
	}
	if outcome.Result.Output != "ok" {
		t.Errorf("Output = %v, want ok", outcome.Result.Output)
	}
}

func TestRunNodeRetriesRetryableError(t *testing.T) {
	fe := &fakeExecutor{
		typ:     core.NodeLLM,
		errs:    []error{core.NewStepError(core.ErrorProvider, "rate limited"), nil},
		results: []core.NodeResult{{}, {Output: "recovered"}},
	}
	r := newRunner(fe)
	node := &graph.NodeDefinition{
		ID: "n1", Type: core.NodeLLM,
		Retry: &graph.RetryPolicy{MaxRetries: 2, BackoffBase: "1ms", Exponential: false},
	}

	outcome, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, &core.NodeContext{})
	if err != nil {
		t.Fatalf("RunNode: %v", err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", outcome.Attempts)
	}
	if outcome.Result.Output != "recovered" {
		t.Errorf("Output = %v, want recovered", outcome.Result.Output)
	}
}

func TestRunNodeDoesNotRetryValidationError(t *testing.T) {
	fe := &fakeExecutor{typ: core.NodeLLM, errs: []error{core.NewStepError(core.ErrorValidation, "bad input")}}
	r := newRunner(fe)
	node := &graph.NodeDefinition{ID: "n1", Type: core.NodeLLM, Retry: &graph.RetryPolicy{MaxRetries: 3}}

	_, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, &core.NodeContext{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if fe.calls != 1 {
		t.Errorf("calls = %d, want 1 (VALIDATION_ERROR is not retryable)", fe.calls)
	}
}

func TestRunNodeExhaustsRetriesAndReturnsLastError(t *testing.T) {
	wantErr := core.NewStepError(core.ErrorTimeout, "too slow")
	fe := &fakeExecutor{typ: core.NodeLLM, errs: []error{wantErr, wantErr}}
	r := newRunner(fe)
	node := &graph.NodeDefinition{ID: "n1", Type: core.NodeLLM, Retry: &graph.RetryPolicy{MaxRetries: 1, BackoffBase: "1ms"}}

	_, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, &core.NodeContext{})
	if err == nil || err.Error() != wantErr.Error() {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if fe.calls != 2 {
		t.Errorf("calls = %d, want 2", fe.calls)
	}
}

func TestRunNodeGuardrailRejectsEmptyOutput(t *testing.T) {
	fe := &fakeExecutor{typ: core.NodeLLM, results: []core.NodeResult{{Output: ""}}}
	r := newRunner(fe)
	node := &graph.NodeDefinition{
		ID: "n1", Type: core.NodeLLM,
		Guardrails: &graph.GuardrailConfig{RequireNonEmptyOutput: true},
	}

	_, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, &core.NodeContext{})
	if err == nil {
		t.Fatal("expected a guardrail validation error")
	}
	se := core.AsStepError(err)
	if se.Type != core.ErrorValidation {
		t.Errorf("ErrorType = %q, want VALIDATION_ERROR", se.Type)
	}
}

func TestRunNodeGuardrailRequiresFields(t *testing.T) {
	fe := &fakeExecutor{typ: core.NodeLLM, results: []core.NodeResult{{Output: map[string]any{"a": 1}}}}
	r := newRunner(fe)
	node := &graph.NodeDefinition{
		ID: "n1", Type: core.NodeLLM,
		Guardrails: &graph.GuardrailConfig{RequiredFields: []string{"b"}},
	}

	_, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, &core.NodeContext{})
	if err == nil {
		t.Fatal("expected a guardrail validation error for missing field")
	}
}

func TestRunNodeCacheReadThroughHitsOnSecondCall(t *testing.T) {
	fe := &fakeExecutor{typ: core.NodeLLM, results: []core.NodeResult{{Output: "first"}, {Output: "second"}}}
	r := &GraphNodeRunner{Registry: exec.NewRegistry(), Cache: NewLRUCache(16)}
	r.Registry.Register(fe)
	node := &graph.NodeDefinition{ID: "n1", Version: "v1", Type: core.NodeLLM, Cache: graph.CacheReadThrough}
	nctx := &core.NodeContext{GlobalInput: "same-input"}

	first, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, nctx)
	if err != nil {
		t.Fatalf("RunNode first: %v", err)
	}
	if first.CacheHit {
		t.Error("first call should not be a cache hit")
	}

	second, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, nctx)
	if err != nil {
		t.Fatalf("RunNode second: %v", err)
	}
	if !second.CacheHit {
		t.Error("second call with identical fingerprint should be a cache hit")
	}
	if second.Result.Output != "first" {
		t.Errorf("Output = %v, want cached value 'first'", second.Result.Output)
	}
	if fe.calls != 1 {
		t.Errorf("calls = %d, want 1 (second call served from cache)", fe.calls)
	}
}

func TestRunNodeCacheForceRefreshBypassesReadButWrites(t *testing.T) {
	fe := &fakeExecutor{typ: core.NodeLLM, results: []core.NodeResult{{Output: "fresh1"}, {Output: "fresh2"}}}
	r := &GraphNodeRunner{Registry: exec.NewRegistry(), Cache: NewLRUCache(16)}
	r.Registry.Register(fe)
	node := &graph.NodeDefinition{ID: "n1", Version: "v1", Type: core.NodeLLM, Cache: graph.CacheForceRefresh}
	nctx := &core.NodeContext{GlobalInput: "same-input"}

	if _, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, nctx); err != nil {
		t.Fatalf("RunNode first: %v", err)
	}
	second, err := r.RunNode(context.Background(), node, graph.LLMConfig{}, nctx)
	if err != nil {
		t.Fatalf("RunNode second: %v", err)
	}
	if second.CacheHit {
		t.Error("FORCE_REFRESH must always re-execute, never read the cache")
	}
	if fe.calls != 2 {
		t.Errorf("calls = %d, want 2 (FORCE_REFRESH never reads cache)", fe.calls)
	}
}

func TestBackoffConfigDelayForAttemptCapsAtMaxDelay(t *testing.T) {
	b := backoffConfig{initialDelay: 10 * time.Second, factor: 10, maxDelay: 50 * time.Millisecond}
	d := b.delayForAttempt(5)
	if d > 50*time.Millisecond {
		t.Errorf("delayForAttempt = %v, want <= maxDelay 50ms", d)
	}
}

// ABOUTME: GraphNodeRunner wraps one executor invocation with a cache/retry/guardrail policy,
// ABOUTME: grounded on attractor's executeWithRetry and its BackoffConfig delay formula.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/exec"
	"github.com/2389-research/graphrun/graph"
)

// ResultCache is the narrow capability GraphNodeRunner needs for
// READ_THROUGH/FORCE_REFRESH node caching. Keyed by a content
// fingerprint of (nodeId, nodeVersion, rendered input).
type ResultCache interface {
	Get(ctx context.Context, key string) (core.NodeResult, bool, error)
	Put(ctx context.Context, key string, result core.NodeResult) error
}

// GraphNodeRunner executes one node: fingerprint + cache lookup, executor
// dispatch with retry/backoff, then guardrail validation.
type GraphNodeRunner struct {
	Registry *exec.Registry
	Cache    ResultCache // optional; nil disables caching entirely
}

// Outcome is the result of RunNode: either a cache hit, a fresh execution, or
// a terminal failure classified by ErrorType.
type Outcome struct {
	Result   core.NodeResult
	CacheHit bool
	Attempts int
}

// RunNode executes node against nctx, applying node.Cache, node.Retry, and
// node.Guardrails in that order.
func (r *GraphNodeRunner) RunNode(ctx context.Context, node *graph.NodeDefinition, cfg graph.Config, nctx *core.NodeContext) (Outcome, error) {
	executor, err := r.Registry.Lookup(node.Type)
	if err != nil {
		return Outcome{}, err
	}

	key := ""
	if r.Cache != nil && node.Cache != graph.CacheNone {
		key = fingerprint(node.ID, node.Version, nctx.PreviousOutput, nctx.GlobalInput)
		if node.Cache == graph.CacheReadThrough {
			if cached, ok, cerr := r.Cache.Get(ctx, key); cerr == nil && ok {
				return Outcome{Result: cached, CacheHit: true, Attempts: 0}, nil
			}
		}
	}

	policy := retryPolicyFor(node.Retry)

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, policy.Backoff.delayForAttempt(attempt-1)); err != nil {
				return Outcome{}, err
			}
		}

		result, execErr := executor.Execute(ctx, node, cfg, nctx)
		if execErr == nil {
			if gerr := checkGuardrails(node.Guardrails, result); gerr != nil {
				execErr = gerr
			}
		}

		if execErr == nil {
			if r.Cache != nil && key != "" {
				_ = r.Cache.Put(ctx, key, result)
			}
			return Outcome{Result: result, Attempts: attempt + 1}, nil
		}

		lastErr = execErr
		se := core.AsStepError(execErr)
		if !policy.retryable(se.Type) {
			return Outcome{Attempts: attempt + 1}, execErr
		}
	}

	return Outcome{Attempts: policy.MaxAttempts}, lastErr
}

// checkGuardrails runs the post-execution output-shape check. A failure is
// classified VALIDATION_ERROR, which is not retryable, so a guardrail
// failure always terminates the node's attempts.
func checkGuardrails(g *graph.GuardrailConfig, result core.NodeResult) error {
	if g == nil {
		return nil
	}
	if g.RequireNonEmptyOutput {
		if result.Output == nil || result.Output == "" {
			return core.NewStepError(core.ErrorValidation, "guardrail: output is empty")
		}
	}
	if len(g.RequiredFields) > 0 {
		m, ok := result.Output.(map[string]any)
		if !ok {
			return core.NewStepError(core.ErrorValidation, "guardrail: output is not an object, cannot check required fields")
		}
		for _, field := range g.RequiredFields {
			if _, present := m[field]; !present {
				return core.NewStepError(core.ErrorValidation, "guardrail: missing required field %q", field)
			}
		}
	}
	return nil
}

// retryPolicy is the resolved backoff/attempt-count/retryable-type policy for
// one node, defaulted when the node carries no graph.RetryPolicy.
type retryPolicy struct {
	MaxAttempts int
	Backoff     backoffConfig
	onlyTypes   map[core.ErrorType]bool // empty => all retryable kinds per ErrorType.Retryable()
}

type backoffConfig struct {
	initialDelay time.Duration
	factor       float64
	maxDelay     time.Duration
}

// delayForAttempt mirrors attractor.BackoffConfig.DelayForAttempt: InitialDelay
// * Factor^attempt, capped at MaxDelay, with full jitter.
func (b backoffConfig) delayForAttempt(attempt int) time.Duration {
	baseNanos := float64(b.initialDelay.Nanoseconds()) * math.Pow(b.factor, float64(attempt))
	maxNanos := float64(b.maxDelay.Nanoseconds())
	delayNanos := math.Min(baseNanos, maxNanos)
	delayNanos = rand.Float64() * delayNanos
	return time.Duration(int64(delayNanos))
}

func retryPolicyFor(p *graph.RetryPolicy) retryPolicy {
	if p == nil {
		return retryPolicy{MaxAttempts: 1, Backoff: backoffConfig{initialDelay: 200 * time.Millisecond, factor: 2.0, maxDelay: 60 * time.Second}}
	}
	base := 200 * time.Millisecond
	if p.BackoffBase != "" {
		if d, err := time.ParseDuration(p.BackoffBase); err == nil {
			base = d
		}
	}
	factor := 1.0
	if p.Exponential {
		factor = 2.0
	}
	onlyTypes := make(map[core.ErrorType]bool, len(p.RetryOnErrorTypes))
	for _, t := range p.RetryOnErrorTypes {
		onlyTypes[t] = true
	}
	return retryPolicy{
		MaxAttempts: p.MaxRetries + 1,
		Backoff:     backoffConfig{initialDelay: base, factor: factor, maxDelay: 60 * time.Second},
		onlyTypes:   onlyTypes,
	}
}

func (p retryPolicy) retryable(t core.ErrorType) bool {
	if !t.Retryable() {
		return false
	}
	if len(p.onlyTypes) == 0 {
		return true
	}
	return p.onlyTypes[t]
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fingerprint hashes the cache key inputs: nodeId, nodeVersion,
// and the rendered input (previousOutput, falling back to globalInput for
// entry nodes).
func fingerprint(nodeID, version string, previousOutput, globalInput any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", nodeID, version)
	input := previousOutput
	if input == nil {
		input = globalInput
	}
	if data, err := json.Marshal(input); err == nil {
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ABOUTME: Invoker wires graph.LLMConfig-selected providers to exec.LLMInvoker over a
// ABOUTME: multi-provider llm.Client (Anthropic/OpenAI/Gemini adapters, retry, and the model catalog).
package providers

import (
	"context"

	"github.com/2389-research/graphrun/exec"
	"github.com/2389-research/graphrun/graph"
	"github.com/2389-research/graphrun/llm"
)

// Invoker implements exec.LLMInvoker by routing graph.LLMConfig.Provider to a
// registered llm.Client provider, estimating cost from the catalog's
// per-million pricing.
type Invoker struct {
	client  *llm.Client
	catalog *llm.Catalog
}

// Option configures an Invoker at construction time.
type Option func(*Invoker)

// WithAnthropicKey registers an Anthropic provider adapter if apiKey is non-empty.
func WithAnthropicKey(apiKey string) Option {
	return func(inv *Invoker) {
		if apiKey == "" {
			return
		}
		llm.WithProvider("anthropic", llm.NewAnthropicAdapter(apiKey))(inv.client)
	}
}

// WithOpenAIKey registers an OpenAI provider adapter if apiKey is non-empty.
func WithOpenAIKey(apiKey string) Option {
	return func(inv *Invoker) {
		if apiKey == "" {
			return
		}
		llm.WithProvider("openai", llm.NewOpenAIAdapter(apiKey))(inv.client)
	}
}

// WithGeminiKey registers a Gemini provider adapter if apiKey is non-empty.
func WithGeminiKey(apiKey string) Option {
	return func(inv *Invoker) {
		if apiKey == "" {
			return
		}
		llm.WithProvider("gemini", llm.NewGeminiAdapter(apiKey))(inv.client)
	}
}

// WithProviderAdapter registers an arbitrary llm.ProviderAdapter under name,
// bypassing the built-in Anthropic/OpenAI/Gemini constructors. Used to plug
// in a custom transport (a test double, or a provider not covered by the
// With*Key options above).
func WithProviderAdapter(name string, adapter llm.ProviderAdapter) Option {
	return func(inv *Invoker) {
		llm.WithProvider(name, adapter)(inv.client)
	}
}

// New builds an Invoker with the given providers registered; a graph with no
// provider configured for a node falls back to the client's default.
func New(opts ...Option) *Invoker {
	inv := &Invoker{client: llm.NewClient(), catalog: llm.DefaultCatalog()}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

var _ exec.LLMInvoker = (*Invoker)(nil)

// Invoke renders cfg into an llm.Request and executes it against the
// configured provider, translating the result into exec.LLMResult.
func (inv *Invoker) Invoke(ctx context.Context, cfg graph.LLMConfig, prompt string) (exec.LLMResult, error) {
	_, resolvedModel := inv.catalog.ResolveModel(cfg)
	if resolvedModel == "" {
		resolvedModel = cfg.Model
	}

	req := llm.Request{
		Model:    resolvedModel,
		Provider: cfg.Provider,
		Messages: []llm.Message{},
	}
	if cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: []llm.ContentPart{llm.TextPart(cfg.SystemPrompt)},
		})
	}
	req.Messages = append(req.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: []llm.ContentPart{llm.TextPart(prompt)},
	})
	if cfg.Temperature != 0 {
		req.Temperature = llm.Float64Ptr(cfg.Temperature)
	}
	if cfg.TopP != 0 {
		req.TopP = llm.Float64Ptr(cfg.TopP)
	}
	if cfg.MaxTokens != 0 {
		mt := cfg.MaxTokens
		req.MaxTokens = &mt
	}

	resp, err := inv.client.Complete(ctx, req)
	if err != nil {
		return exec.LLMResult{}, llm.ToStepError(err)
	}

	tokens := int64(resp.Usage.TotalTokens)
	cost := inv.estimateCost(resp.Model, resp.Usage)

	return exec.LLMResult{
		Text:    resp.TextContent(),
		Tokens:  tokens,
		CostUsd: cost,
		ProviderMeta: map[string]any{
			"provider":      resp.Provider,
			"model":         resp.Model,
			"finish_reason": resp.FinishReason.Reason,
		},
	}, nil
}

func (inv *Invoker) estimateCost(modelID string, usage llm.Usage) float64 {
	info := inv.catalog.GetModelInfo(modelID)
	if info == nil {
		return 0
	}
	inputCost := float64(usage.InputTokens) / 1_000_000 * info.InputCostPerMillion
	outputCost := float64(usage.OutputTokens) / 1_000_000 * info.OutputCostPerMillion
	return inputCost + outputCost
}

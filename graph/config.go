// ABOUTME: Config is the typed union NodeDefinition.RawConfig decodes into at executor lookup time.
// ABOUTME: Implements Design Note "Dynamic node config": validate into a struct, keep the raw object for replay.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/2389-research/graphrun/core"
)

// Config is the sealed set of typed node configurations.
type Config interface {
	configSeal()
}

// LLMConfig backs LLM, Planning, and Reflection nodes identically.
type LLMConfig struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"topP"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	SystemPrompt   string  `json:"systemPrompt,omitempty"`
	PromptTemplate string  `json:"promptTemplate,omitempty"`
}

func (LLMConfig) configSeal() {}

// ToolConfig backs Tool nodes.
type ToolConfig struct {
	ToolName     string            `json:"toolName"`
	ToolVersion  string            `json:"toolVersion"`
	TimeoutMs    int               `json:"timeoutMs"`
	InputMapping map[string]string `json:"inputMapping,omitempty"`
}

func (ToolConfig) configSeal() {}

// AgentLoopConfig backs AgentLoop nodes.
type AgentLoopConfig struct {
	SystemPrompt   string   `json:"systemPrompt"`
	AvailableTools []string `json:"availableTools"`
	MaxIterations  int      `json:"maxIterations"`
	MaxTokens      int      `json:"maxTokens"`
	Temperature    float64  `json:"temperature"`
}

func (AgentLoopConfig) configSeal() {}

// MemoryConfig backs Memory nodes: named slot reads/writes against runMemory.
type MemoryConfig struct {
	Reads  []string          `json:"reads,omitempty"`
	Writes map[string]string `json:"writes,omitempty"` // slot -> source path ("output.<field>" or literal)
}

func (MemoryConfig) configSeal() {}

// PassthroughConfig backs Input/Output nodes: opaque, no fields required.
type PassthroughConfig struct {
	Raw json.RawMessage `json:"-"`
}

func (PassthroughConfig) configSeal() {}

// DecodeConfig validates n.RawConfig into the Config variant appropriate for
// n.Type. The original bytes remain on NodeDefinition.RawConfig for replay.
func DecodeConfig(n *NodeDefinition) (Config, error) {
	switch n.Type {
	case core.NodeLLM, core.NodePlanning, core.NodeReflection:
		var c LLMConfig
		if len(n.RawConfig) > 0 {
			if err := json.Unmarshal(n.RawConfig, &c); err != nil {
				return nil, fmt.Errorf("decode %s config for node %q: %w", n.Type, n.ID, err)
			}
		}
		if c.Temperature < 0 || c.Temperature > 2 {
			return nil, fmt.Errorf("node %q: temperature %v out of range [0,2]", n.ID, c.Temperature)
		}
		if c.TopP < 0 || c.TopP > 1 {
			return nil, fmt.Errorf("node %q: topP %v out of range [0,1]", n.ID, c.TopP)
		}
		return c, nil

	case core.NodeTool:
		var c ToolConfig
		if len(n.RawConfig) > 0 {
			if err := json.Unmarshal(n.RawConfig, &c); err != nil {
				return nil, fmt.Errorf("decode tool config for node %q: %w", n.ID, err)
			}
		}
		if c.TimeoutMs <= 0 {
			return nil, fmt.Errorf("node %q: timeoutMs must be > 0", n.ID)
		}
		return c, nil

	case core.NodeAgentLoop:
		c := AgentLoopConfig{MaxIterations: 12}
		if len(n.RawConfig) > 0 {
			if err := json.Unmarshal(n.RawConfig, &c); err != nil {
				return nil, fmt.Errorf("decode agent loop config for node %q: %w", n.ID, err)
			}
		}
		if c.MaxIterations <= 0 {
			return nil, fmt.Errorf("node %q: maxIterations must be > 0", n.ID)
		}
		if c.Temperature < 0 || c.Temperature > 2 {
			return nil, fmt.Errorf("node %q: temperature %v out of range [0,2]", n.ID, c.Temperature)
		}
		return c, nil

	case core.NodeMemory:
		var c MemoryConfig
		if len(n.RawConfig) > 0 {
			if err := json.Unmarshal(n.RawConfig, &c); err != nil {
				return nil, fmt.Errorf("decode memory config for node %q: %w", n.ID, err)
			}
		}
		return c, nil

	case core.NodeInput, core.NodeOutput:
		return PassthroughConfig{Raw: n.RawConfig}, nil

	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownNodeType, n.Type)
	}
}

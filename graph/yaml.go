// ABOUTME: LoadYAML parses a GraphDefinition from a YAML document, an alternate input format for the CLI.
// ABOUTME: JSON remains the canonical wire format; this is a convenience on top of gopkg.in/yaml.v3.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389-research/graphrun/core"
	"gopkg.in/yaml.v3"
)

type yamlGraph struct {
	Nodes []yamlNode `yaml:"nodes"`
	Edges []yamlEdge `yaml:"edges"`
	Parallel []struct {
		ID      string   `yaml:"id"`
		NodeIDs []string `yaml:"nodeIds"`
	} `yaml:"parallelGroups"`
}

type yamlNode struct {
	ID         string            `yaml:"id"`
	Type       string            `yaml:"type"`
	Label      string            `yaml:"label"`
	Version    string            `yaml:"version"`
	Cache      string            `yaml:"cache"`
	Config     map[string]any    `yaml:"config"`
	Metadata   map[string]string `yaml:"metadata"`
	Retry      *yamlRetry        `yaml:"retry"`
	Guardrails *GuardrailConfig  `yaml:"guardrails"`
}

type yamlRetry struct {
	MaxRetries        int      `yaml:"maxRetries"`
	BackoffBase       string   `yaml:"backoffBase"`
	Exponential       bool     `yaml:"exponential"`
	RetryOnErrorTypes []string `yaml:"retryOnErrorTypes"`
}

type yamlEdge struct {
	ID        string  `yaml:"id"`
	Source    string  `yaml:"source"`
	Target    string  `yaml:"target"`
	Condition *string `yaml:"condition"`
	Label     *string `yaml:"label"`
	Weight    int     `yaml:"weight"`
}

// LoadYAML parses a GraphDefinition from YAML bytes. It does not validate the
// graph; structural DAG checks are applied by Validate.
func LoadYAML(data []byte) (*GraphDefinition, error) {
	var y yamlGraph
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parse graph yaml: %w", err)
	}

	g := &GraphDefinition{
		Nodes: make([]NodeDefinition, 0, len(y.Nodes)),
		Edges: make([]EdgeDefinition, 0, len(y.Edges)),
	}

	for _, n := range y.Nodes {
		nd := NodeDefinition{
			ID:       n.ID,
			Type:     nodeTypeFromYAML(n.Type),
			Label:    n.Label,
			Version:  n.Version,
			Cache:    CachePolicy(n.Cache),
			Metadata: n.Metadata,
			Guardrails: n.Guardrails,
		}
		if n.Config != nil {
			raw, err := yamlConfigToJSON(n.Config)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			nd.RawConfig = raw
		}
		if n.Retry != nil {
			nd.Retry = &RetryPolicy{
				MaxRetries:  n.Retry.MaxRetries,
				BackoffBase: n.Retry.BackoffBase,
				Exponential: n.Retry.Exponential,
			}
			for _, et := range n.Retry.RetryOnErrorTypes {
				nd.Retry.RetryOnErrorTypes = append(nd.Retry.RetryOnErrorTypes, errorTypeFromYAML(et))
			}
		}
		g.Nodes = append(g.Nodes, nd)
	}

	for _, e := range y.Edges {
		g.Edges = append(g.Edges, EdgeDefinition{
			ID: e.ID, Source: e.Source, Target: e.Target,
			Condition: e.Condition, Label: e.Label, Weight: e.Weight,
		})
	}

	for _, pg := range y.Parallel {
		g.ParallelGroups = append(g.ParallelGroups, ParallelGroup{ID: pg.ID, NodeIDs: pg.NodeIDs})
	}

	return g, nil
}

func yamlConfigToJSON(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}

func nodeTypeFromYAML(s string) core.NodeType {
	return core.NodeType(strings.ToUpper(s))
}

func errorTypeFromYAML(s string) core.ErrorType {
	return core.ErrorType(strings.ToUpper(s))
}

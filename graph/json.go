// ABOUTME: LoadJSON parses the canonical GraphDefinition wire format.
package graph

import (
	"encoding/json"
	"fmt"
)

// LoadJSON parses a GraphDefinition from its canonical JSON representation.
// Node config bodies are not checked here; DecodeConfig checks them when a
// node's config is looked up. Structural DAG checks are applied by Validate.
func LoadJSON(data []byte) (*GraphDefinition, error) {
	var g GraphDefinition
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph json: %w", err)
	}
	g.Index()
	return &g, nil
}

// ABOUTME: GraphDefinition/NodeDefinition/EdgeDefinition/ParallelGroup types and traversal helpers.
// ABOUTME: Generalizes attractor.Graph's map-of-nodes/slice-of-edges shape from Graphviz DOT to JSON input.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/2389-research/graphrun/core"
)

// RetryPolicy configures GraphNodeRunner's retry behavior for one node.
type RetryPolicy struct {
	MaxRetries       int             `json:"maxRetries"`
	BackoffBase      string          `json:"backoffBase,omitempty"` // duration string, e.g. "10ms"
	Exponential      bool            `json:"exponential,omitempty"`
	RetryOnErrorTypes []core.ErrorType `json:"retryOnErrorTypes,omitempty"` // empty => all retryable kinds
}

// CachePolicy is NodeDefinition.cache.
type CachePolicy string

const (
	CacheNone         CachePolicy = "NO_CACHE"
	CacheReadThrough  CachePolicy = "READ_THROUGH"
	CacheForceRefresh CachePolicy = "FORCE_REFRESH"
)

// GuardrailConfig is the optional post-execution output-shape check.
type GuardrailConfig struct {
	RequireNonEmptyOutput bool     `json:"requireNonEmptyOutput,omitempty"`
	RequiredFields        []string `json:"requiredFields,omitempty"`
}

// NodeDefinition is one node in a GraphDefinition. Config is validated into a
// concrete graph.Config at ExecutorRegistry lookup time; RawConfig retains
// the original bytes for replay fidelity (Design Note: "Dynamic node config").
type NodeDefinition struct {
	ID         string            `json:"id"`
	Type       core.NodeType     `json:"type"`
	Label      string            `json:"label,omitempty"`
	Version    string            `json:"version,omitempty"`
	Retry      *RetryPolicy      `json:"retry,omitempty"`
	Guardrails *GuardrailConfig  `json:"guardrails,omitempty"`
	Cache      CachePolicy       `json:"cache,omitempty"`
	RawConfig  json.RawMessage   `json:"config,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EdgeDefinition is one directed edge in a GraphDefinition.
type EdgeDefinition struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Condition *string `json:"condition,omitempty"`
	Label     *string `json:"label,omitempty"`
	Weight    int     `json:"weight,omitempty"`
}

// ParallelGroup marks a set of nodes as concurrently eligible once their
// common predecessors complete.
type ParallelGroup struct {
	ID      string   `json:"id"`
	NodeIDs []string `json:"nodeIds"`
}

// GraphDefinition is the immutable input to GraphRuntime.
type GraphDefinition struct {
	Nodes          []NodeDefinition  `json:"nodes"`
	Edges          []EdgeDefinition  `json:"edges"`
	ParallelGroups []ParallelGroup   `json:"parallelGroups,omitempty"`

	byID     map[string]*NodeDefinition
	outgoing map[string][]*EdgeDefinition
	incoming map[string][]*EdgeDefinition
}

// Index builds the lookup tables used by traversal helpers. Called by
// LoadJSON and at the start of Validate; safe to call multiple times.
func (g *GraphDefinition) Index() {
	g.byID = make(map[string]*NodeDefinition, len(g.Nodes))
	for i := range g.Nodes {
		g.byID[g.Nodes[i].ID] = &g.Nodes[i]
	}
	g.outgoing = make(map[string][]*EdgeDefinition, len(g.Nodes))
	g.incoming = make(map[string][]*EdgeDefinition, len(g.Nodes))
	for i := range g.Edges {
		e := &g.Edges[i]
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}
}

// Node looks up a node definition by ID.
func (g *GraphDefinition) Node(id string) (*NodeDefinition, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// OutgoingEdges returns edges originating at nodeID, in definition order.
func (g *GraphDefinition) OutgoingEdges(nodeID string) []*EdgeDefinition {
	return g.outgoing[nodeID]
}

// IncomingEdges returns edges terminating at nodeID, in definition order.
func (g *GraphDefinition) IncomingEdges(nodeID string) []*EdgeDefinition {
	return g.incoming[nodeID]
}

// EntryNode returns the sole node with no incoming edges.
func (g *GraphDefinition) EntryNode() (*NodeDefinition, bool) {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if len(g.incoming[n.ID]) == 0 {
			return n, true
		}
	}
	return nil, false
}

// TerminalNodes returns all nodes with no outgoing edges.
func (g *GraphDefinition) TerminalNodes() []*NodeDefinition {
	var out []*NodeDefinition
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if len(g.outgoing[n.ID]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// NodeIDs returns all node IDs in sorted order for deterministic iteration.
func (g *GraphDefinition) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for i := range g.Nodes {
		ids = append(ids, g.Nodes[i].ID)
	}
	sort.Strings(ids)
	return ids
}

// Hash returns a deterministic content hash of the graph definition, used as
// Run.graphHash.
func (g *GraphDefinition) Hash() (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ParallelGroupFor returns the ParallelGroup containing nodeID, if any.
func (g *GraphDefinition) ParallelGroupFor(nodeID string) (*ParallelGroup, bool) {
	for i := range g.ParallelGroups {
		pg := &g.ParallelGroups[i]
		for _, id := range pg.NodeIDs {
			if id == nodeID {
				return pg, true
			}
		}
	}
	return nil, false
}

// ABOUTME: Structural validation of a GraphDefinition: DAG well-formedness checks independent
// ABOUTME: of node config schema validation, which happens at decode time instead.
package graph

import (
	"fmt"
	"sort"
)

// Diagnostic is one validation finding, mirroring attractor.Diagnostic's
// severity/rule/message shape but scoped to the smaller rule set this core
// needs (node-config schema checking happens separately, in DecodeConfig).
type Diagnostic struct {
	Rule    string
	NodeID  string
	Message string
}

// Rule validates one structural property of a GraphDefinition.
type Rule interface {
	Name() string
	Apply(g *GraphDefinition) []Diagnostic
}

func builtinRules() []Rule {
	return []Rule{
		uniqueNodeIDsRule{},
		edgeEndpointsExistRule{},
		singleEntryRule{},
		atLeastOneTerminalRule{},
		acyclicRule{},
		parallelGroupSizeRule{},
	}
}

// Validate runs all structural rules and returns every diagnostic found.
// Unlike attractor's lint rules there is no warning/info tier: every
// violation here is a hard DAG well-formedness error.
func Validate(g *GraphDefinition) []Diagnostic {
	g.Index()
	var diags []Diagnostic
	for _, r := range builtinRules() {
		diags = append(diags, r.Apply(g)...)
	}
	return diags
}

// ValidateOrError is Validate plus a combined error when any diagnostic exists.
func ValidateOrError(g *GraphDefinition) ([]Diagnostic, error) {
	diags := Validate(g)
	if len(diags) > 0 {
		return diags, fmt.Errorf("graph validation failed with %d error(s): %s", len(diags), diags[0].Message)
	}
	return diags, nil
}

type uniqueNodeIDsRule struct{}

func (uniqueNodeIDsRule) Name() string { return "unique_node_ids" }
func (uniqueNodeIDsRule) Apply(g *GraphDefinition) []Diagnostic {
	seen := make(map[string]bool, len(g.Nodes))
	var diags []Diagnostic
	for _, n := range g.Nodes {
		if seen[n.ID] {
			diags = append(diags, Diagnostic{Rule: "unique_node_ids", NodeID: n.ID, Message: fmt.Sprintf("duplicate node id %q", n.ID)})
		}
		seen[n.ID] = true
	}
	return diags
}

type edgeEndpointsExistRule struct{}

func (edgeEndpointsExistRule) Name() string { return "edge_endpoints_exist" }
func (edgeEndpointsExistRule) Apply(g *GraphDefinition) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		if _, ok := g.Node(e.Source); !ok {
			diags = append(diags, Diagnostic{Rule: "edge_endpoints_exist", NodeID: e.Source, Message: fmt.Sprintf("edge %q: source %q does not exist", e.ID, e.Source)})
		}
		if _, ok := g.Node(e.Target); !ok {
			diags = append(diags, Diagnostic{Rule: "edge_endpoints_exist", NodeID: e.Target, Message: fmt.Sprintf("edge %q: target %q does not exist", e.ID, e.Target)})
		}
	}
	return diags
}

type singleEntryRule struct{}

func (singleEntryRule) Name() string { return "single_entry" }
func (singleEntryRule) Apply(g *GraphDefinition) []Diagnostic {
	var entries []string
	for _, n := range g.Nodes {
		if len(g.IncomingEdges(n.ID)) == 0 {
			entries = append(entries, n.ID)
		}
	}
	sort.Strings(entries)
	switch len(entries) {
	case 0:
		return []Diagnostic{{Rule: "single_entry", Message: "graph has no entry node (a node with no incoming edges)"}}
	case 1:
		return nil
	default:
		return []Diagnostic{{Rule: "single_entry", Message: fmt.Sprintf("graph has multiple entry nodes: %v", entries)}}
	}
}

type atLeastOneTerminalRule struct{}

func (atLeastOneTerminalRule) Name() string { return "at_least_one_terminal" }
func (atLeastOneTerminalRule) Apply(g *GraphDefinition) []Diagnostic {
	if len(g.TerminalNodes()) == 0 {
		return []Diagnostic{{Rule: "at_least_one_terminal", Message: "graph has no terminal node (a node with no outgoing edges)"}}
	}
	return nil
}

// acyclicRule rejects cycles in the edge set via DFS coloring. AgentLoop's
// internal ReAct iteration is not represented as graph edges, so no
// special-casing of NodeAgentLoop is needed here.
type acyclicRule struct{}

func (acyclicRule) Name() string { return "acyclic" }
func (acyclicRule) Apply(g *GraphDefinition) []Diagnostic {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var diags []Diagnostic
	var cyclic bool

	var visit func(id string)
	visit = func(id string) {
		if cyclic {
			return
		}
		color[id] = gray
		for _, e := range g.OutgoingEdges(id) {
			switch color[e.Target] {
			case gray:
				cyclic = true
				diags = append(diags, Diagnostic{Rule: "acyclic", NodeID: id, Message: fmt.Sprintf("cycle detected through edge %s -> %s", id, e.Target)})
				return
			case white:
				visit(e.Target)
			}
		}
		color[id] = black
	}

	for _, id := range g.NodeIDs() {
		if color[id] == white {
			visit(id)
		}
	}
	return diags
}

type parallelGroupSizeRule struct{}

func (parallelGroupSizeRule) Name() string { return "parallel_group_size" }
func (parallelGroupSizeRule) Apply(g *GraphDefinition) []Diagnostic {
	var diags []Diagnostic
	for _, pg := range g.ParallelGroups {
		if len(pg.NodeIDs) < 2 {
			diags = append(diags, Diagnostic{Rule: "parallel_group_size", NodeID: pg.ID, Message: fmt.Sprintf("parallel group %q needs at least 2 nodeIds, got %d", pg.ID, len(pg.NodeIDs))})
		}
		for _, id := range pg.NodeIDs {
			if _, ok := g.Node(id); !ok {
				diags = append(diags, Diagnostic{Rule: "parallel_group_size", NodeID: id, Message: fmt.Sprintf("parallel group %q references unknown node %q", pg.ID, id)})
			}
		}
	}
	return diags
}

// ABOUTME: EvaluateCondition evaluates an edge's guard expression against a node's result.
// ABOUTME: Grammar: Clause ('&&' Clause)*, Clause: Key ('='|'!=') Literal, adapted from attractor's clause language.
package graph

import (
	"strconv"
	"strings"
)

// EvaluateCondition evaluates condition against the just-completed node's
// result. Recognized keys: "status" (success|error|skipped), "output.<key>"
// (string-coerced field of a map output, or "output.text" for a string
// output), and "memory.<key>" against runMemory. An empty or
// whitespace-only condition evaluates true (unconditional edge).
func EvaluateCondition(condition string, status string, output any, runMemory map[string]any) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}
	for _, clause := range strings.Split(trimmed, "&&") {
		if !evaluateClause(strings.TrimSpace(clause), status, output, runMemory) {
			return false
		}
	}
	return true
}

func evaluateClause(clause, status string, output any, runMemory map[string]any) bool {
	if idx := strings.Index(clause, "!="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+2:])
		return resolveKey(key, status, output, runMemory) != literal
	}
	if idx := strings.Index(clause, "="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+1:])
		return resolveKey(key, status, output, runMemory) == literal
	}
	return false
}

func resolveKey(key, status string, output any, runMemory map[string]any) string {
	switch {
	case key == "status":
		return status
	case key == "output.text":
		if s, ok := output.(string); ok {
			return s
		}
		return ""
	case strings.HasPrefix(key, "output."):
		if m, ok := output.(map[string]any); ok {
			return stringifyAny(m[strings.TrimPrefix(key, "output.")])
		}
		return ""
	case strings.HasPrefix(key, "memory."):
		return stringifyAny(runMemory[strings.TrimPrefix(key, "memory.")])
	default:
		return ""
	}
}

func stringifyAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// ValidateConditionSyntax reports whether condition parses under the clause grammar.
func ValidateConditionSyntax(condition string) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}
	for _, clause := range strings.Split(trimmed, "&&") {
		c := strings.TrimSpace(clause)
		if c == "" || !strings.Contains(c, "=") {
			return false
		}
		if idx := strings.Index(c, "!="); idx >= 0 {
			if strings.TrimSpace(c[:idx]) == "" {
				return false
			}
			continue
		}
		idx := strings.Index(c, "=")
		if strings.TrimSpace(c[:idx]) == "" {
			return false
		}
	}
	return true
}

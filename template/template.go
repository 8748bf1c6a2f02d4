// ABOUTME: Render substitutes {{ns.key}} placeholders against input, output, and memory namespaces.
// ABOUTME: A single left-to-right scanner pass, not text/template, so tokens never re-expand.
package template

import (
	"strconv"
	"strings"
)

// Namespace values recognized by Render; anything else resolves to empty.
const (
	nsInput  = "input"
	nsOutput = "output"
	nsMemory = "memory"
)

// Render substitutes every `{{ns.key}}` token in tmpl in a single left-to-right
// pass. globalInput and runMemory are treated as string-keyed maps;
// previousOutput may be a string (for output.text) or a map (for
// output.<field>). Unknown namespaces, missing keys, and type mismatches all
// resolve to empty string — Render never errors.
func Render(tmpl string, globalInput map[string]any, previousOutput any, runMemory map[string]any) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		start += i
		b.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			// Unterminated token: emit the rest verbatim, matching "never throws".
			b.WriteString(tmpl[start:])
			break
		}
		end += start

		token := strings.TrimSpace(tmpl[start+2 : end])
		b.WriteString(resolve(token, globalInput, previousOutput, runMemory))
		i = end + 2
	}

	return b.String()
}

func resolve(token string, globalInput map[string]any, previousOutput any, runMemory map[string]any) string {
	ns, key, ok := strings.Cut(token, ".")
	if !ok {
		return ""
	}

	switch ns {
	case nsInput:
		return stringify(globalInput[key])
	case nsMemory:
		return stringify(runMemory[key])
	case nsOutput:
		if key == "text" {
			if s, ok := previousOutput.(string); ok {
				return s
			}
			return ""
		}
		if m, ok := previousOutput.(map[string]any); ok {
			return stringify(m[key])
		}
		return ""
	default:
		return ""
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

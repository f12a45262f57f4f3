package automation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// TemplateResolver replaces {{path.to.field}} placeholders in action
// parameters. A path that misses at the root is retried under "ticket", so
// {{priority}} and {{ticket.priority}} are equivalent. Placeholders that
// cannot be resolved are left as written.
type TemplateResolver struct{}

// Resolve returns value with every string inside it resolved against vars.
// Maps and slices are rebuilt, the input is never modified.
func (TemplateResolver) Resolve(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = TemplateResolver{}.Resolve(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = TemplateResolver{}.Resolve(item, vars)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = resolveString(item, vars)
		}
		return out
	default:
		return value
	}
}

// ResolveParams resolves a parameter map.
func (r TemplateResolver) ResolveParams(params map[string]any, vars map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return r.Resolve(params, vars).(map[string]any)
}

func resolveString(s string, vars map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := lookup(vars, path)
		if !ok {
			if ticket, isMap := vars["ticket"].(map[string]any); isMap {
				val, ok = lookup(ticket, path)
			}
		}
		if !ok {
			return match
		}
		return render(val)
	})
}

func lookup(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

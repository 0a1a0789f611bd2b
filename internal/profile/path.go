package profile

import "strings"

// getPath walks a dotted key through nested maps.
func getPath(m map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = m
	for _, p := range parts {
		table, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = table[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath stores value at a dotted key, creating intermediate tables and
// replacing non-table values on the way.
func setPath(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	table := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := table[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			table[p] = next
		}
		table = next
	}
	table[parts[len(parts)-1]] = value
}

// deletePath removes a dotted key. Missing keys are ignored.
func deletePath(m map[string]any, key string) {
	parts := strings.Split(key, ".")
	table := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := table[p].(map[string]any)
		if !ok {
			return
		}
		table = next
	}
	delete(table, parts[len(parts)-1])
}

// cloneValue deep-copies maps and slices produced by the codecs.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

package policy

import arrayops "github.com/adam-hanna/arrayOperations"

// toStringSlice normalises a decoded JSON claim/operand value (string,
// []interface{}, or []string) into a []string for set-algebra purposes.
// Federation metadata value-set claims (scopes_supported,
// response_types_supported, and the like) are always string lists.
func toStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// union returns the set union of a and b, deduplicated, order-stable on a
// then b.
func union(a, b []string) []string {
	if len(a) == 0 {
		return dedupe(b)
	}
	if len(b) == 0 {
		return dedupe(a)
	}
	res, err := arrayops.Union(a, b)
	if err != nil {
		return dedupe(append(append([]string{}, a...), b...))
	}
	out, ok := res.ToInterface().([]string)
	if !ok {
		return dedupe(append(append([]string{}, a...), b...))
	}
	return out
}

// intersect returns the set intersection of a and b.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	res, err := arrayops.Intersect(a, b)
	if err != nil {
		return manualIntersect(a, b)
	}
	out, ok := res.ToInterface().([]string)
	if !ok {
		return manualIntersect(a, b)
	}
	return out
}

func manualIntersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(a []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func containsAll(haystack, needles []string) bool {
	set := make(map[string]bool, len(haystack))
	for _, s := range haystack {
		set[s] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(intersect(a, b)) == len(dedupe(a))
}

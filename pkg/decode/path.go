package decode

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a compiled path expression.
type segment struct {
	key      string
	index    int
	wildcard bool
	isIndex  bool
}

// Evaluate applies a path expression to a decoded JSON value and returns
// every match in document order. Supported syntax: "$" (root), ".key",
// "['key']", "[*]" and "[n]". A key that is absent yields no match rather
// than an error, so optional fields such as a missing "next" simply
// evaluate to nothing. Applying a key to a non-object, or an index to a
// non-array, is an error.
func Evaluate(expr string, value any) ([]any, error) {
	segments, err := compile(expr)
	if err != nil {
		return nil, err
	}

	current := []any{value}
	for _, seg := range segments {
		next := make([]any, 0, len(current))
		for _, v := range current {
			matched, err := seg.apply(v)
			if err != nil {
				return nil, err
			}
			next = append(next, matched...)
		}
		current = next
	}
	return current, nil
}

func (s segment) apply(v any) ([]any, error) {
	switch {
	case s.wildcard:
		switch t := v.(type) {
		case []any:
			return t, nil
		case map[string]any:
			out := make([]any, 0, len(t))
			for _, item := range t {
				out = append(out, item)
			}
			return out, nil
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("cannot iterate %T", v)
		}
	case s.isIndex:
		arr, ok := v.([]any)
		if !ok {
			if v == nil {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot index %T", v)
		}
		i := s.index
		if i < 0 {
			i += len(arr)
		}
		if i < 0 || i >= len(arr) {
			return nil, nil
		}
		return []any{arr[i]}, nil
	default:
		obj, ok := v.(map[string]any)
		if !ok {
			if v == nil {
				return nil, nil
			}
			return nil, fmt.Errorf("expected object at %q, got %T", s.key, v)
		}
		item, ok := obj[s.key]
		if !ok {
			return nil, nil
		}
		return []any{item}, nil
	}
}

// compile parses a path expression into segments.
func compile(expr string) ([]segment, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "$") {
		return nil, fmt.Errorf("path %q must start with $", expr)
	}

	var segments []segment
	rest := expr[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if strings.HasPrefix(rest, ".") {
				return nil, fmt.Errorf("path %q: recursive descent is not supported", expr)
			}
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			key := rest[:end]
			if key == "" {
				return nil, fmt.Errorf("path %q: empty key", expr)
			}
			if key == "*" {
				segments = append(segments, segment{wildcard: true})
			} else {
				segments = append(segments, segment{key: key})
			}
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated bracket", expr)
			}
			inner := strings.TrimSpace(rest[1:end])
			rest = rest[end+1:]

			switch {
			case inner == "*":
				segments = append(segments, segment{wildcard: true})
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				segments = append(segments, segment{key: inner[1 : len(inner)-1]})
			default:
				i, err := strconv.Atoi(inner)
				if err != nil {
					return nil, fmt.Errorf("path %q: invalid index %q", expr, inner)
				}
				segments = append(segments, segment{index: i, isIndex: true})
			}
		default:
			return nil, fmt.Errorf("path %q: unexpected %q", expr, rest[0])
		}
	}
	return segments, nil
}

// ValidatePath reports whether expr is a supported path expression.
func ValidatePath(expr string) error {
	_, err := compile(expr)
	return err
}

package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize converts value into its generic JSON form: map[string]any, []any, float64, string, bool or nil.
// Empty objects are dropped, as a store does not keep paths without data.
func Normalize(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var v any
	if err = json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return prune(v), nil
}

func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for key, child := range m {
		if child = prune(child); child == nil {
			delete(m, key)
		} else {
			m[key] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Flatten returns the leaves of value, keyed by their full path below path.
func Flatten(path string, value any) map[string]json.RawMessage {
	leaves := make(map[string]json.RawMessage)
	flatten(path, value, leaves)
	return leaves
}

func flatten(path string, value any, leaves map[string]json.RawMessage) {
	switch v := value.(type) {
	case nil:
	case map[string]any:
		for key, child := range v {
			flatten(join(path, key), child, leaves)
		}
	default:
		b, _ := json.Marshal(v)
		leaves[path] = b
	}
}

// Unflatten rebuilds the value at path from leaves keyed by their full path.
func Unflatten(path string, leaves map[string]json.RawMessage) (any, error) {
	var root any
	for leafPath, raw := range leaves {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", leafPath, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(leafPath, path), "/")
		if rel == "" {
			return v, nil
		}
		if root == nil {
			root = make(map[string]any)
		}
		Put(root.(map[string]any), Split(rel), v)
	}
	return root, nil
}

// Lookup returns the value below root at the given path segments, or nil if it doesn't exist.
func Lookup(root any, segments []string) any {
	node := root
	for _, segment := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		if node, ok = m[segment]; !ok {
			return nil
		}
	}
	return node
}

// Put stores value below root at the given path segments, creating intermediate objects as needed.
// segments may not be empty.
func Put(root map[string]any, segments []string, value any) {
	node := root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

// Delete removes the value below root at the given path segments and drops any parent left empty.
func Delete(root map[string]any, segments []string) {
	if len(segments) == 0 {
		return
	}
	child, ok := root[segments[0]]
	if !ok {
		return
	}
	if len(segments) == 1 {
		delete(root, segments[0])
		return
	}
	if m, ok := child.(map[string]any); ok {
		Delete(m, segments[1:])
		if len(m) == 0 {
			delete(root, segments[0])
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}

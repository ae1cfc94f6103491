// Package store defines the key-path addressed, observable key-value store that holds the device state.
//
// Values are exchanged as JSON. A path that holds no value reads as JSON null. Writing null removes the path.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

// Null is the value of a path that does not exist.
var Null = json.RawMessage("null")

// A Store is a remote key-value store addressed by slash-separated paths.
type Store interface {
	// Get returns the value at path, or Null if the path does not exist.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Set replaces the value at path with the JSON encoding of value.
	Set(ctx context.Context, path string, value any) error
	// Remove deletes path and everything below it.
	Remove(ctx context.Context, path string) error
	// Push returns a new, unique child key for path. Keys are ordered by creation time.
	Push(ctx context.Context, path string) (string, error)
	// Subscribe sends the value at path once subscribed and after every change that affects it.
	// The channel is closed once ctx is canceled.
	Subscribe(ctx context.Context, path string) (<-chan Event, error)
}

// An Event is sent to subscribers. If Err is set, the subscription hit a problem and Value should be ignored.
type Event struct {
	Path  string
	Value json.RawMessage
	Err   error
}

// IsNull returns true if value holds no data.
func IsNull(value json.RawMessage) bool {
	v := bytes.TrimSpace(value)
	return len(v) == 0 || bytes.Equal(v, Null)
}

// CleanPath trims leading and trailing slashes and rejects empty segments or characters that cannot be used in a key.
func CleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || strings.ContainsAny(segment, ".$#[]") {
			return "", ErrInvalidPath
		}
	}
	return path, nil
}

// Split returns the segments of a cleaned path.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Related returns true if a change at changed affects the value at watched, i.e. one of the paths contains the other.
func Related(watched, changed string) bool {
	return within(watched, changed) || within(changed, watched)
}

// within returns true if path is parent or equal to child.
func within(parent, child string) bool {
	if parent == "" || parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

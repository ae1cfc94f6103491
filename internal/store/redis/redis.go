// Package redis implements store.Store on top of Redis.
//
// Every leaf of the tree is stored as a JSON-encoded string, keyed by the prefix and its full path.
// Writers publish the path they changed, so subscribers can re-read the paths they follow.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"strings"
)

var _ store.Store = &Store{}

type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func New(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	return &Store{client: client, prefix: prefix, logger: logger}
}

// NewFromURL connects to the Redis server at redisURL (e.g. redis://localhost:6379/0).
func NewFromURL(ctx context.Context, redisURL string, prefix string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, prefix, logger), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v, err := s.client.Get(ctx, s.key(path)).Bytes()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("get %s: %w", path, err)
		}
	}

	leaves, err := s.subtree(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if len(leaves) == 0 {
		return store.Null, nil
	}
	v, err := store.Unflatten(path, leaves)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return json.Marshal(v)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	path, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if _, ok := v.(map[string]any); path == "" && v != nil && !ok {
		return fmt.Errorf("set %s: %w", path, store.ErrInvalidPath)
	}

	// a new value replaces the whole subtree, as well as any leaf stored at one of the parents
	obsolete, err := s.subtreeKeys(ctx, path)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	segments := store.Split(path)
	for i := range segments {
		obsolete = append(obsolete, s.key(strings.Join(segments[:i+1], "/")))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(obsolete) > 0 {
			pipe.Del(ctx, obsolete...)
		}
		for leaf, raw := range store.Flatten(path, v) {
			pipe.Set(ctx, s.key(leaf), []byte(raw), 0)
		}
		pipe.Publish(ctx, s.changes(), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *Store) Push(_ context.Context, path string) (string, error) {
	if _, err := store.CleanPath(path); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	return id.String(), nil
}

// Subscribe listens on the change channel before reading the initial value, so no change can get lost in between.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan store.Event, error) {
	path, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	pubsub := s.client.Subscribe(ctx, s.changes())
	if _, err = pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	ch := make(chan store.Event)
	go func() {
		defer close(ch)
		defer func() { _ = pubsub.Close() }()

		if !s.send(ctx, ch, path) {
			return
		}
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if !store.Related(path, msg.Payload) {
					continue
				}
				s.logger.Debug("change received", slog.String("path", path), slog.String("changed", msg.Payload))
				if !s.send(ctx, ch, path) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *Store) send(ctx context.Context, ch chan<- store.Event, path string) bool {
	value, err := s.Get(ctx, path)
	select {
	case ch <- store.Event{Path: path, Value: value, Err: err}:
		return true
	case <-ctx.Done():
		return false
	}
}

// subtree returns all leaves below path, keyed by their full path.
func (s *Store) subtree(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	keys, err := s.subtreeKeys(ctx, path)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	leaves := make(map[string]json.RawMessage, len(keys))
	for i, key := range keys {
		// a key may have been deleted since the scan
		if v, ok := values[i].(string); ok {
			leaves[strings.TrimPrefix(key, s.prefix)] = json.RawMessage(v)
		}
	}
	return leaves, nil
}

func (s *Store) subtreeKeys(ctx context.Context, path string) ([]string, error) {
	pattern := escapeGlob(s.prefix) + "*"
	if path != "" {
		pattern = escapeGlob(s.key(path)+"/") + "*"
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *Store) key(path string) string {
	return s.prefix + path
}

// changes is the pub/sub channel for change notifications. '#' can't occur in a path, so it never clashes with a key.
func (s *Store) changes() string {
	return s.prefix + "#changes"
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

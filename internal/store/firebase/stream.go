package firebase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/store"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	ErrStreamCanceled = errors.New("stream canceled by server")
	ErrAuthRevoked    = errors.New("stream authorization revoked")
)

// Subscribe follows path using the REST streaming protocol (server-sent events). On every put or patch,
// it re-reads the full value at path and sends it. If the stream breaks, an Event with Err set is sent and
// the client reconnects after ReconnectDelay.
func (c *Client) Subscribe(ctx context.Context, path string) (<-chan store.Event, error) {
	path, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	ch := make(chan store.Event)
	go func() {
		defer close(ch)
		c.logger.Debug("stream starting", slog.String("path", path))
		defer c.logger.Debug("stream stopping", slog.String("path", path))

		for {
			err := c.stream(ctx, path, ch)
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stream interrupted", slog.String("path", path), slog.Any("err", err))
			if !send(ctx, ch, store.Event{Path: path, Err: err}) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.ReconnectDelay):
			}
		}
	}()
	return ch, nil
}

func (c *Client) stream(ctx context.Context, path string, ch chan<- store.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err = c.dispatch(ctx, path, event, ch); err != nil {
				return err
			}
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		// data lines carry the delta only. dispatch re-reads the full value instead.
	}
	if err = scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (c *Client) dispatch(ctx context.Context, path string, event string, ch chan<- store.Event) error {
	switch event {
	case "put", "patch":
		value, err := c.Get(ctx, path)
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		if !send(ctx, ch, store.Event{Path: path, Value: value}) {
			return ctx.Err()
		}
	case "cancel":
		return ErrStreamCanceled
	case "auth_revoked":
		return ErrAuthRevoked
	}
	return nil
}

func send(ctx context.Context, ch chan<- store.Event, ev store.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

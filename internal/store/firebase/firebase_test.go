package firebase

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/clambin/aircon-scheduler/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testSecret = "secret"

// newDatabase returns a fake Realtime Database, serving the REST protocol from a memory store.
func newDatabase(t *testing.T, backend *memory.Store) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("auth") != testSecret {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Permission denied"}`))
			return
		}
		path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
		switch r.Method {
		case http.MethodGet:
			if r.Header.Get("Accept") == "text/event-stream" {
				serveStream(w, r, backend, path)
				return
			}
			v, err := backend.Get(r.Context(), path)
			if err != nil {
				http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
				return
			}
			_, _ = w.Write(v)
		case http.MethodPut:
			var v any
			if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
				http.Error(w, `{"error":"Invalid data; couldn't parse JSON object"}`, http.StatusBadRequest)
				return
			}
			if err := backend.Set(r.Context(), path, v); err != nil {
				http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(v)
		case http.MethodDelete:
			_ = backend.Remove(r.Context(), path)
			_, _ = w.Write([]byte("null"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func serveStream(w http.ResponseWriter, r *http.Request, backend *memory.Store, path string) {
	ch, err := backend.Subscribe(r.Context(), path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	_, _ = fmt.Fprint(w, "event: keep-alive\ndata: null\n\n")
	flusher.Flush()
	for ev := range ch {
		_, _ = fmt.Fprintf(w, "event: put\ndata: {\"path\":\"/\",\"data\":%s}\n\n", ev.Value)
		flusher.Flush()
	}
}

func newClient(t *testing.T, url, secret string) *Client {
	t.Helper()
	c, err := New(url, secret, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	c.ReconnectDelay = 10 * time.Millisecond
	return c
}

func TestNew(t *testing.T) {
	_, err := New("not a url", "", nil, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
	_, err = New("https://example-default-rtdb.firebasedatabase.app/", "", nil, slog.New(slog.DiscardHandler))
	assert.NoError(t, err)
}

func TestClient_url(t *testing.T) {
	c := newClient(t, "https://example.firebasedatabase.app/", "foo bar")
	assert.Equal(t, "https://example.firebasedatabase.app/airConditioner/status.json?auth=foo+bar", c.url("airConditioner/status"))
}

func TestClient_Get_Set_Remove(t *testing.T) {
	ctx := t.Context()
	backend := memory.New()
	s := newDatabase(t, backend)
	c := newClient(t, s.URL, testSecret)

	require.NoError(t, c.Set(ctx, "airConditioner/status", "ON"))
	require.NoError(t, c.Set(ctx, "airConditioner/temperature", 22))

	v, err := c.Get(ctx, "airConditioner")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ON","temperature":22}`, string(v))

	require.NoError(t, c.Remove(ctx, "airConditioner/status"))
	v, err = c.Get(ctx, "airConditioner/status")
	require.NoError(t, err)
	assert.True(t, store.IsNull(v))

	_, err = c.Get(ctx, "a.b")
	assert.ErrorIs(t, err, store.ErrInvalidPath)
}

func TestClient_Unauthorized(t *testing.T) {
	s := newDatabase(t, memory.New())
	c := newClient(t, s.URL, "wrong")

	_, err := c.Get(t.Context(), "airConditioner/status")
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "Permission denied")
}

func TestClient_Push(t *testing.T) {
	c := newClient(t, "https://example.firebasedatabase.app", "")
	id1, err := c.Push(t.Context(), "airConditioner/schedules")
	require.NoError(t, err)
	id2, err := c.Push(t.Context(), "airConditioner/schedules")
	require.NoError(t, err)
	assert.Less(t, id1, id2)
}

func TestClient_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	backend := memory.New()
	require.NoError(t, backend.Set(ctx, "airConditioner/schedules/a", map[string]any{"action": "OFF"}))
	s := newDatabase(t, backend)
	c := newClient(t, s.URL, testSecret)

	ch, err := c.Subscribe(ctx, "airConditioner/schedules")
	require.NoError(t, err)

	ev := <-ch
	require.NoError(t, ev.Err)
	assert.JSONEq(t, `{"a":{"action":"OFF"}}`, string(ev.Value))

	require.NoError(t, c.Remove(ctx, "airConditioner/schedules/a"))
	ev = <-ch
	require.NoError(t, ev.Err)
	assert.True(t, store.IsNull(ev.Value))

	cancel()
	for range ch {
	}
}

func TestClient_Subscribe_Reconnect(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			_, _ = w.Write([]byte(`"ON"`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		if calls.Add(1) == 1 {
			_, _ = fmt.Fprint(w, "event: cancel\ndata: null\n\n")
			return
		}
		_, _ = fmt.Fprint(w, "event: put\ndata: {\"path\":\"/\",\"data\":\"ON\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(s.Close)

	ctx, cancel := context.WithCancel(t.Context())
	c := newClient(t, s.URL, "")
	ch, err := c.Subscribe(ctx, "airConditioner/status")
	require.NoError(t, err)

	ev := <-ch
	assert.ErrorIs(t, ev.Err, ErrStreamCanceled)

	ev = <-ch
	require.NoError(t, ev.Err)
	assert.JSONEq(t, `"ON"`, string(ev.Value))

	cancel()
	for range ch {
	}
}

func TestMetricsPath(t *testing.T) {
	assert.Equal(t, "/airConditioner/schedules", metricsPath("/airConditioner/schedules/0190a1b2.json"))
	assert.Equal(t, "/airConditioner/status", metricsPath("/airConditioner/status.json"))
	assert.Equal(t, "/fans", metricsPath("/fans.json"))
}

func TestNewInstrumentedHTTPClient(t *testing.T) {
	r := prometheus.NewRegistry()
	httpClient := NewInstrumentedHTTPClient(r)

	s := newDatabase(t, memory.New())
	c, err := New(s.URL, testSecret, httpClient, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, c.Set(t.Context(), "fans/fan1", true))

	families, err := r.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// Package firebase implements store.Store on top of the Firebase Realtime Database REST API.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/store"
	"github.com/google/uuid"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ store.Store = &Client{}

// Client accesses a Realtime Database at a URL like https://<project>-default-rtdb.<region>.firebasedatabase.app.
type Client struct {
	HTTPClient     *http.Client
	ReconnectDelay time.Duration
	baseURL        *url.URL
	auth           string
	logger         *slog.Logger
}

// HTTPError is returned when the database answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return "firebase: " + http.StatusText(e.StatusCode) + ": " + e.Message
}

// New returns a Client for the database at databaseURL. auth is a database secret or ID token and may be empty.
// If httpClient is nil, http.DefaultClient is used.
func New(databaseURL, auth string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid database url: %q", databaseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		HTTPClient:     httpClient,
		ReconnectDelay: 5 * time.Second,
		baseURL:        u,
		auth:           auth,
		logger:         logger,
	}, nil
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	path, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	_, err = c.do(ctx, http.MethodPut, path, body)
	return err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	path, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// Push generates a time-ordered child key locally, as the Firebase SDKs do. Nothing is written.
func (c *Client) Push(_ context.Context, path string) (string, error) {
	if _, err := store.CleanPath(path); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	return id.String(), nil
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte) (json.RawMessage, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %w", method, path, parseError(resp))
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read: %w", method, path, err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return store.Null, nil
	}
	return payload, nil
}

func (c *Client) url(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path + ".json"
	if c.auth != "" {
		q := u.Query()
		q.Set("auth", c.auth)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var response struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &response); err == nil && response.Error != "" {
		msg = response.Error
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// IsHTTPError returns true if err is an HTTPError with the given status code.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == statusCode
}

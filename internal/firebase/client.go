package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"token-manager/internal/store"
)

// Client talks to a Firebase Realtime Database over its REST API.
type Client struct {
	BaseURL    string
	Auth       string
	HTTPClient *http.Client
}

var _ store.Store = (*Client)(nil)

func NewClient(baseURL, auth string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Auth:    auth,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Connect builds a client and probes the database once. It never writes.
func Connect(ctx context.Context, baseURL, auth string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("firebase database url is not configured")
	}
	c := NewClient(baseURL, auth, timeout)
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to firebase: %w", err)
	}
	log.Println("Connected to Firebase")
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "", nil, url.Values{"shallow": {"true"}}, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.Auth != "" {
		query.Set("auth", c.Auth)
	}
	u := fmt.Sprintf("%s/%s.json", c.BaseURL, strings.Trim(path, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// doRequest returns the open response on 2xx. Transport failures and unexpected
// statuses are wrapped in store.ErrUnavailable; 412 maps to store.ErrConflict.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values, header http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", store.ErrUnavailable, method, path, err)
	}

	if resp.StatusCode == http.StatusPreconditionFailed {
		resp.Body.Close()
		return nil, store.ErrConflict
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: api error: %s (status: %d)", store.ErrUnavailable, strings.TrimSpace(string(respBody)), resp.StatusCode)
	}
	return resp, nil
}

// readJSON drains the response and decodes it into dst; a JSON null is reported
// as not found.
func readJSON(resp *http.Response, dst any) (bool, error) {
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: failed to read response body: %v", store.ErrUnavailable, err)
	}
	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if dst == nil {
		return true, nil
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return true, nil
}

func (c *Client) Get(ctx context.Context, path string, dst any) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil, nil)
	if err != nil {
		return false, err
	}
	return readJSON(resp, dst)
}

func (c *Client) Set(ctx context.Context, path string, v any) error {
	resp, err := c.doRequest(ctx, http.MethodPut, path, v, url.Values{"print": {"silent"}}, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	resp, err := c.doRequest(ctx, http.MethodPatch, path, fields, url.Values{"print": {"silent"}}, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) Push(ctx context.Context, path string, v any) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, path, v, nil, nil)
	if err != nil {
		return "", err
	}
	var result struct {
		Name string `json:"name"`
	}
	if _, err := readJSON(resp, &result); err != nil {
		return "", err
	}
	if result.Name == "" {
		return "", fmt.Errorf("%w: push to %s returned no key", store.ErrUnavailable, path)
	}
	return result.Name, nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) GetWithETag(ctx context.Context, path string, dst any) (string, bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil, http.Header{"X-Firebase-ETag": {"true"}})
	if err != nil {
		return "", false, err
	}
	etag := resp.Header.Get("ETag")
	found, err := readJSON(resp, dst)
	if err != nil {
		return "", false, err
	}
	if etag == "" {
		etag = store.NullETag
	}
	return etag, found, nil
}

func (c *Client) SetIfMatch(ctx context.Context, path string, v any, etag string) error {
	if v == nil {
		// PUT null deletes the node.
		v = json.RawMessage("null")
	}
	resp, err := c.doRequest(ctx, http.MethodPut, path, v, url.Values{"print": {"silent"}}, http.Header{"if-match": {etag}})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the versioned REST API over HTTP.
type Client struct {
	baseURL     string
	token       string
	actAsUserID string
	httpClient  *http.Client
}

// Error represents an API error response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Option configures a Client.
type Option func(*Client)

// WithActAsUser adds the as_user_id masquerade parameter to every request.
func WithActAsUser(userID string) Option {
	return func(c *Client) { c.actAsUserID = userID }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs an API client rooted at baseURL's versioned API root.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the API root the client was constructed with.
func (c *Client) BaseURL() string { return c.baseURL }

// ActAsUserID returns the masquerade user, if any.
func (c *Client) ActAsUserID() string { return c.actAsUserID }

// Request describes one endpoint invocation. Path is relative to the
// versioned API root unless it is already an absolute URL (next-page cursors
// come back absolute).
type Request struct {
	Method string
	Path   string
	Query  url.Values
	JSON   any
	Form   url.Values
}

func (c *Client) url(req Request) (string, error) {
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		return req.Path, nil
	}
	u, err := url.Parse(c.baseURL + "/api/v1/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	q := u.Query()
	for key, vals := range req.Query {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	if c.actAsUserID != "" {
		q.Set("as_user_id", c.actAsUserID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, req Request) (*http.Response, error) {
	target, err := c.url(req)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(httpReq)
}

// Do executes req and decodes the JSON response body into T. A 204 or empty
// body yields the zero value of T; Meta carries status and pagination either
// way. Non-2xx statuses are returned as *Error.
func Do[T any](ctx context.Context, c *Client, req Request) (T, *Meta, error) {
	var out T
	resp, err := c.do(ctx, req)
	if err != nil {
		return out, nil, err
	}
	defer resp.Body.Close()
	meta := newMeta(resp)
	if resp.StatusCode >= 400 {
		return out, meta, decodeError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return out, meta, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, meta, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, meta, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, meta, fmt.Errorf("decode response: %w", err)
	}
	return out, meta, nil
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error  string `json:"error"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" && len(errResp.Errors) > 0 {
		msg = errResp.Errors[0].Message
	}
	if msg == "" {
		msg = resp.Status
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}

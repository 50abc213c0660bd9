package hq

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hq-analytics/hqbridge/pkg/session"
)

// Response is an HQ API response. Non-2xx statuses are not promoted to
// errors here; callers decide retry and failure semantics.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response status is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client calls HQ REST endpoints with the session's bearer credential
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenProvider
}

// NewClient creates an HQ API client. baseURL must end with a slash.
func NewClient(baseURL string, tokens *TokenProvider) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		tokens:  tokens,
	}
}

// Get performs a GET against an HQ API path
func (c *Client) Get(ctx context.Context, sess *session.Context, path string) (*Response, error) {
	return c.do(ctx, sess, http.MethodGet, path, "", nil)
}

// PostForm performs a POST with a URL-encoded form body against an HQ API path
func (c *Client) PostForm(ctx context.Context, sess *session.Context, path string, data url.Values) (*Response, error) {
	return c.do(ctx, sess, http.MethodPost,
		path, "application/x-www-form-urlencoded", strings.NewReader(data.Encode()))
}

func (c *Client) do(ctx context.Context, sess *session.Context, method, path, contentType string, body io.Reader) (*Response, error) {
	tok, err := c.tokens.ValidToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &APIError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Op: method + " " + path, Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Package upstream talks to the restaurant POS REST API.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"posgate/internal/types"
	"strings"
	"time"
)

// maxBodyBytes caps how much of an upstream response is buffered.
const maxBodyBytes = 8 << 20

type Client struct {
	base *url.URL
	http *http.Client
	now  func() time.Time
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}, nil
}

// Do forwards a request to the upstream API and buffers the whole response.
func (c *Client) Do(ctx context.Context, method, path, rawQuery string, body io.Reader, contentType string) (*types.Response, error) {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, types.Err(types.ErrUpstream, err, "")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.Err(types.ErrUpstream, err, "%s %s", method, path)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, types.Err(types.ErrUpstream, err, "read body of %s %s", method, path)
	}
	return &types.Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        b,
		FetchedAtMs: c.now().UnixMilli(),
	}, nil
}

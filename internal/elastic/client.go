// Package elastic is a minimal REST client for the document store. It covers
// exactly the surface the pipeline and tool server need: index management,
// bulk submission, counts, async reindex tasks, stored scripts, template
// search, and inference calls.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"props2mcp/internal/config"
)

// Client talks to one Elasticsearch endpoint. Control-plane calls ride a
// retrying HTTP client; bulk submissions use a plain client with a shorter
// timeout so a rejected batch surfaces to the loader instead of being
// silently resubmitted by the transport.
type Client struct {
	baseURL  string
	apiKey   string
	username string
	password string

	control *http.Client
	bulk    *http.Client
}

// APIError is a non-2xx response from the store, with the error type and
// reason parsed out of the standard error body when present.
type APIError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch: status %d", e.StatusCode)
	}
	return fmt.Sprintf("elasticsearch: %s: %s (status %d)", e.Type, e.Reason, e.StatusCode)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

func NewClient(cfg config.ElasticConfig) (*Client, error) {
	transport, err := newTransport(cfg.CACert)
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	rc.HTTPClient.Transport = transport

	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		username: cfg.Username,
		password: cfg.Password,
		control:  rc.StandardClient(),
		bulk: &http.Client{
			Timeout:   cfg.BulkTimeout,
			Transport: transport,
		},
	}, nil
}

func newTransport(caCert string) (http.RoundTripper, error) {
	if caCert == "" {
		return http.DefaultTransport, nil
	}
	pem, err := os.ReadFile(caCert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caCert)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	return transport, nil
}

// Info pings the cluster root endpoint; used at startup to fail fast on bad
// credentials or an unreachable URL.
func (c *Client) Info(ctx context.Context) error {
	return c.do(ctx, c.control, http.MethodGet, "/", nil, nil)
}

func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	err := c.do(ctx, c.control, http.MethodHead, "/"+index, nil, nil)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateIndex creates index with the given mapping body, consumed opaquely.
func (c *Client) CreateIndex(ctx context.Context, index, mapping string) error {
	return c.do(ctx, c.control, http.MethodPut, "/"+index, []byte(mapping), nil)
}

func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	return c.do(ctx, c.control, http.MethodDelete, "/"+index, nil, nil)
}

// EnsureDeleted removes index if present and no-ops otherwise.
func (c *Client) EnsureDeleted(ctx context.Context, index string) error {
	err := c.DeleteIndex(ctx, index)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// RecreateIndex drops any existing index of the same name and creates a
// fresh one, so repeated runs never accumulate documents.
func (c *Client) RecreateIndex(ctx context.Context, index, mapping string) error {
	if err := c.EnsureDeleted(ctx, index); err != nil {
		return err
	}
	return c.CreateIndex(ctx, index, mapping)
}

func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, c.control, http.MethodGet, "/"+index+"/_count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Infer invokes the named inference endpoint. Only the status matters to
// callers; the health checker uses it as a readiness probe.
func (c *Client) Infer(ctx context.Context, inferenceID string, input []string) error {
	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return err
	}
	return c.do(ctx, c.control, http.MethodPost, "/_inference/"+inferenceID, body, nil)
}

// do issues one request. A nil out discards the response body; non-2xx
// statuses are returned as *APIError.
func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
		return
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiErr
	}
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(raw, &body); jsonErr == nil {
		apiErr.Type = body.Error.Type
		apiErr.Reason = body.Error.Reason
	}
	return apiErr
}

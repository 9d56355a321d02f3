// Package index provides the optional secondary-index client consumed by the
// coordination layer. It mirrors detail documents into an external indexing
// service over REST; the coordination logic never depends on it for
// correctness.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"recordcore/pkg/record"
)

// Config carries the connection parameters of the indexing service.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Client talks to one indexing service database.
type Client struct {
	base     *url.URL
	database string
	user     string
	password string
	httpc    *http.Client
}

// New validates the configuration and returns a client. No connection is
// established up front; every call is an independent request.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("index: host required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("index: database required")
	}
	port := cfg.Port
	if port == 0 {
		port = 8984
	}
	base, err := url.Parse(fmt.Sprintf("http://%s:%d", cfg.Host, port))
	if err != nil {
		return nil, fmt.Errorf("index: parse base url: %w", err)
	}
	return &Client{
		base:     base,
		database: cfg.Database,
		user:     cfg.User,
		password: cfg.Password,
		httpc:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// IndexDocument upserts one detail document into the index.
func (c *Client) IndexDocument(ctx context.Context, repository, id string, doc record.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("index: encode document: %w", err)
	}
	return c.do(ctx, http.MethodPut, c.documentPath(repository, id), body)
}

// RemoveDocument deletes one document from the index. Removing an unknown
// document is not an error; the index may lag behind the store.
func (c *Client) RemoveDocument(ctx context.Context, repository, id string) error {
	return c.do(ctx, http.MethodDelete, c.documentPath(repository, id), nil)
}

func (c *Client) documentPath(repository, id string) string {
	return fmt.Sprintf("/%s/%s/%s", url.PathEscape(c.database), url.PathEscape(repository), url.PathEscape(id))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) error {
	u := *c.base
	u.Path = path
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("index: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("index: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("index: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}

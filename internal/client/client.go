// Package client talks to the ctrlf position store over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emiilyxie/ctrlf/internal/emitter"
	"github.com/emiilyxie/ctrlf/internal/httputil"
)

// ErrNotFound is returned by Latest when the store has no row for a name.
var ErrNotFound = errors.New("object not found")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// StatusError is a non-2xx response from the store.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("store returned status %d: %s", e.StatusCode, e.Message)
}

// Object is one snapshot entry.
type Object struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Stored is the acknowledgement for a stored record.
type Stored struct {
	Message   string    `json:"message"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is a store client. It implements emitter.Sink.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// New creates a client for the store at baseURL. A nil httpClient uses
// httputil.NewClient with the default timeout.
func New(baseURL string, httpClient httputil.HTTPClient) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("store url must be absolute, got %q", baseURL)
	}
	if httpClient == nil {
		httpClient = httputil.NewClient(httputil.DefaultTimeout)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}, nil
}

type storeObjectRequest struct {
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Source string  `json:"source,omitempty"`
}

// Send posts rec to /store-object. The store assigns the stored timestamp.
func (c *Client) Send(ctx context.Context, rec emitter.Record) error {
	_, err := c.Store(ctx, rec)
	return err
}

// Store posts rec and returns the store's acknowledgement.
func (c *Client) Store(ctx context.Context, rec emitter.Record) (*Stored, error) {
	body, err := json.Marshal(storeObjectRequest{
		Name:   rec.Name,
		X:      rec.X,
		Y:      rec.Y,
		Z:      rec.Z,
		Source: rec.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	var ack Stored
	if err := c.do(ctx, http.MethodPost, "/store-object", body, &ack); err != nil {
		return nil, fmt.Errorf("store %q: %w", rec.Name, err)
	}
	return &ack, nil
}

// Snapshot returns the latest position of every object.
func (c *Client) Snapshot(ctx context.Context) ([]Object, error) {
	var objects []Object
	if err := c.do(ctx, http.MethodGet, "/get-objects", nil, &objects); err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return objects, nil
}

// Latest returns the latest position of name.
func (c *Client) Latest(ctx context.Context, name string) (*Object, error) {
	var obj Object
	err := c.do(ctx, http.MethodGet, "/api/objects/"+url.PathEscape(name), nil, &obj)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("get %q: %w", name, err)
	}
	return &obj, nil
}

// Names returns every object name the store has seen.
func (c *Client) Names(ctx context.Context) ([]string, error) {
	var resp struct {
		Names []string `json:"names"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/names", nil, &resp); err != nil {
		return nil, fmt.Errorf("get names: %w", err)
	}
	return resp.Names, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: httputil.DecodeError(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Package qdrant is a minimal REST client for the qdrant vector
// database, covering the four calls the RAG pipeline needs.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Client struct {
	base   url.URL
	apiKey string
	http   *http.Client
}

// NewClient parses a qdrant base URL such as http://127.0.0.1:6333.
// The api key is optional.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url %q: %w", baseURL, err)
	}

	return &Client{base: *u, apiKey: apiKey, http: http.DefaultClient}, nil
}

// Error is a failed qdrant call, carrying the HTTP status the server
// responded with.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("qdrant: %s (status %d)", e.Message, e.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bts, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(bts)
	}

	u := c.base.JoinPath(path)
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u = c.base.JoinPath(path[:i])
		u.RawQuery = path[i+1:]
	}

	request, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		request.Header.Set("api-key", c.apiKey)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	bts, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		message := strings.TrimSpace(string(bts))
		if json.Unmarshal(bts, &envelope) == nil && envelope.Status.Error != "" {
			message = envelope.Status.Error
		}
		return &Error{StatusCode: response.StatusCode, Message: message}
	}

	if out != nil {
		return json.Unmarshal(bts, out)
	}
	return nil
}

// Point is one stored vector with its payload.
type Point struct {
	ID      uint64         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	ID      uint64         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float64      `json:"vector,omitempty"`
}

// CollectionExists reports whether the named collection is present.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var resp struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections/"+collection+"/exists", nil, &resp); err != nil {
		return false, err
	}
	return resp.Result.Exists, nil
}

// CreateCollection creates a cosine-distance collection of the given
// dimensionality.
func (c *Client) CreateCollection(ctx context.Context, collection string, size int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     size,
			"distance": "Cosine",
		},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+collection, body, nil)
}

// UpsertPoints writes the points into the collection, waiting for the
// operation to land.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

// SearchPoints runs a nearest-neighbor query and returns the scored
// hits with payloads, best first.
func (c *Client) SearchPoints(ctx context.Context, collection string, vector []float64, limit uint64, scoreThreshold *float64) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if scoreThreshold != nil {
		body["score_threshold"] = *scoreThreshold
	}

	var resp struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

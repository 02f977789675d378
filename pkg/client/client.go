package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/types"
)

// Client wraps the WebPods HTTP API for CLI usage
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client against the apex base URL
// (e.g. "http://localhost:3000").
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.http.Do(req)
}

// decode reads a JSON response, converting error envelopes back into
// tagged errors.
func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope errdefs.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Err != nil {
			return envelope.Err
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreatePod creates a new pod owned by the token's user
func (c *Client) CreatePod(name string) (*types.Pod, error) {
	resp, err := c.do(http.MethodPost, "/api/pods", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	var pod types.Pod
	if err := decode(resp, &pod); err != nil {
		return nil, err
	}
	return &pod, nil
}

// ListPods returns the pods owned by the token's user
func (c *Client) ListPods() ([]*types.Pod, error) {
	resp, err := c.do(http.MethodGet, "/api/pods", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Pods []*types.Pod `json:"pods"`
	}
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	return body.Pods, nil
}

// DeletePod removes a pod and all its content
func (c *Client) DeletePod(name string) error {
	resp, err := c.do(http.MethodDelete, "/api/pods/"+name, nil)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// Health fetches the instance health document
func (c *Client) Health() (map[string]interface{}, error) {
	resp, err := c.do(http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	// Degraded instances still answer with a body
	var body map[string]interface{}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

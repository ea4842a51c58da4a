// Package nlu resolves spoken utterances to intents using a Rasa NLU model
// server. It talks to the model parse endpoint over plain HTTP and only
// surfaces the top-ranked intent name; confidence scores and entities stay
// internal until something needs them.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a thin client for a Rasa model server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for parse requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client against the given model server base URL, for example
// "http://localhost:5005".
func New(endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("nlu: endpoint is required")
	}
	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Intent is a classified intent with the model's confidence in it.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type parseRequest struct {
	Text string `json:"text"`
}

type parseResponse struct {
	Intent Intent `json:"intent"`
}

// DetermineIntent classifies the utterance and returns the top intent name.
// An empty utterance classifies as the empty intent without a round trip.
func (c *Client) DetermineIntent(ctx context.Context, utterance string) (string, error) {
	if strings.TrimSpace(utterance) == "" {
		return "", nil
	}

	payload, err := json.Marshal(parseRequest{Text: utterance})
	if err != nil {
		return "", fmt.Errorf("nlu: failed to encode parse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/model/parse", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("nlu: failed to build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("nlu: parse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("nlu: model server returned %s", resp.Status)
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("nlu: failed to decode parse response: %w", err)
	}
	return parsed.Intent.Name, nil
}

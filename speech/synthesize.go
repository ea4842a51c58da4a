package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Say translates a sentence into audio. The result is 16-bit linear PCM at
// 16 kHz in a WAV container, the only format the voice platform accepts for
// playbacks.
func (c *Client) Say(ctx context.Context, sentence string) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: sentence})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal synthesis request: %w", err)
	}

	speakURL, err := url.Parse(c.speakEndpoint)
	if err != nil {
		return nil, fmt.Errorf("speech: invalid speak endpoint: %w", err)
	}
	q := speakURL.Query()
	q.Set("model", c.speakModel)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("container", "wav")
	speakURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, speakURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build synthesis request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("speech: synthesis returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read synthesis response: %w", err)
	}
	return audio, nil
}

package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
)

type utterance struct {
	transcript string
	err        error
}

// TranscribeUtterance transcribes a single spoken utterance from a stream of
// raw 16 kHz 16-bit PCM frames, the format the voice platform delivers on an
// audio snoop. The transcription service decides where the utterance ends:
// the call returns the first finalized transcript once speech ends, which
// means single-word utterances may resolve with a short delay.
//
// The frames channel may keep producing after the utterance resolves; the
// caller is expected to cancel the upstream snoop. Closing the frames
// channel finishes the transcription with whatever was accumulated.
func (c *Client) TranscribeUtterance(ctx context.Context, frames <-chan []byte) (string, error) {
	conn, err := c.dialListen(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	done := make(chan utterance, 1)
	go c.readUtterance(conn, done)

	var connMu sync.Mutex
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					c.closeSend(conn, &connMu)
					return
				}
				connMu.Lock()
				err := conn.WriteMessage(websocket.BinaryMessage, frame)
				connMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	select {
	case u := <-done:
		c.closeSend(conn, &connMu)
		return u.transcript, u.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) dialListen(ctx context.Context) (*websocket.Conn, error) {
	listenURL, err := url.Parse(c.listenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("speech: invalid listen endpoint: %w", err)
	}
	q := listenURL.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("model", c.listenModel)
	q.Set("language", c.language)
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("endpointing", "300")
	q.Set("vad_events", "true")
	listenURL.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("speech: failed to open transcription socket: %w", err)
	}
	return conn, nil
}

// closeSend tells the service no more audio is coming so it finalizes any
// pending results.
func (c *Client) closeSend(conn *websocket.Conn, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
}

// readUtterance accumulates finalized transcript segments until the service
// reports the end of speech, then reports the full utterance exactly once.
func (c *Client) readUtterance(conn *websocket.Conn, done chan<- utterance) {
	var accumulated string

	finish := func() {
		done <- utterance{transcript: strings.TrimSpace(accumulated)}
	}

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if strings.TrimSpace(accumulated) != "" {
				finish()
			} else {
				done <- utterance{err: fmt.Errorf("speech: transcription socket closed: %w", err)}
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		var parsed struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &parsed); err != nil {
			continue
		}

		switch api.TypeResponse(parsed.Type) {
		case api.TypeMessageResponse:
			var resp api.MessageResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.IsFinal && len(resp.Channel.Alternatives) > 0 {
				if t := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); t != "" {
					accumulated += " " + t
				}
			}
			if resp.SpeechFinal && strings.TrimSpace(accumulated) != "" {
				finish()
				return
			}
		case api.TypeUtteranceEndResponse:
			if strings.TrimSpace(accumulated) != "" {
				finish()
				return
			}
		}
	}
}

package voiceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	contentTypeWave = "audio/wave"
	contentTypeJSON = "application/json"
)

// channelURL derives the command URL for a channel from its resource
// reference: the last path segment of the reference is taken as the channel
// id and appended to the API base as /channels/{id}. This assumes the
// platform's channel ids are stable, unencoded path segments.
func (c *Client) channelURL(channel ResourceReference) string {
	ref := channel.Reference
	id := ref[strings.LastIndex(ref, "/")+1:]
	return strings.TrimSuffix(c.cfg.APIEndpoint, "/") + "/channels/" + id
}

// callbackTarget is the externally reachable URL the platform delivers a
// stream's audio fragments to.
func (c *Client) callbackTarget(id string) string {
	return strings.TrimSuffix(c.cfg.CallbackEndpoint, "/") + "/stream/" + id
}

// do issues one authorized command request. Every call acquires a fresh
// token pair. A non-2xx response maps to *RemoteAPIError, connection-level
// failures to *TransportError; neither is retried here.
func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader) error {
	tokens, err := c.tokens.Acquire(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return NewTransportError("request", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NewTransportError("request", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logDebug("api_response", map[string]any{"method": method, "url": url, "status": resp.StatusCode})

	if resp.StatusCode/100 != 2 {
		return NewRemoteAPIError(resp.StatusCode, method, url)
	}
	return nil
}

// CreatePlayback creates a new audio playback resource on the given channel.
// The audio must be 16-bit linear PCM at 16 kHz, mono, in a WAV container.
//
// The id is caller-generated and must be unique; a UUID suffices. The call
// resolves when the platform accepts the playback, not when it completes:
// completion is reported asynchronously as PlaybackEvents for this id.
func (c *Client) CreatePlayback(ctx context.Context, id string, channel ResourceReference, audio []byte) error {
	return c.do(ctx, http.MethodPut, c.channelURL(channel)+"/playbacks/"+id, contentTypeWave, bytes.NewReader(audio))
}

// Playback plays the given audio on the channel and waits for the playback to
// complete. It generates the playback id, arms a completion watch on the
// event bus before issuing the create command (so a fast terminal event
// cannot be missed), and returns once a PlaybackEvent for that id reports the
// completed lifecycle step. Earlier lifecycle steps are skipped over.
//
// There is no internal timeout: if the platform never reports completion the
// wait ends only through ctx.
func (c *Client) Playback(ctx context.Context, channel ResourceReference, audio []byte) error {
	id := uuid.NewString()

	done := make(chan struct{})
	var once sync.Once
	sub := c.events.subscribe(func(ev Event) {
		pe, ok := ev.(PlaybackEvent)
		if !ok || pe.ResourceRef.ID != id {
			return
		}
		if pe.State.Lifecycle == LifecycleCompleted {
			once.Do(func() { close(done) })
		}
	})
	defer sub.Close()

	if err := c.CreatePlayback(ctx, id, channel, audio); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closedCh:
		return ErrClosed
	}
}

// createStreamBody is the JSON body of a stream create command, naming the
// callback target the platform should push audio fragments to.
type createStreamBody struct {
	Target string `json:"target"`
}

// CreateStream creates an audio stream resource that snoops the inbound
// audio of the given channel. The platform starts pushing fragments to
// "<CallbackEndpoint>/stream/{id}" as soon as the command is accepted, so
// some fragments may arrive before this call returns.
func (c *Client) CreateStream(ctx context.Context, id string, channel ResourceReference) error {
	target := c.callbackTarget(id)
	c.logDebug("stream_create", map[string]any{"id": id, "target": target})

	body, err := json.Marshal(createStreamBody{Target: target})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, c.channelURL(channel)+"/streams/"+id, contentTypeJSON, bytes.NewReader(body))
}

// StopStream tells the platform to stop pushing audio for the given stream.
// A few more fragments may still arrive after this resolves; consumers must
// tolerate late fragments.
func (c *Client) StopStream(ctx context.Context, id string, channel ResourceReference) error {
	c.logDebug("stream_stop", map[string]any{"id": id})
	return c.do(ctx, http.MethodDelete, c.channelURL(channel)+"/streams/"+id, "", nil)
}

// snoopBuffer is the per-snoop fragment channel capacity. A consumer that
// lags further behind than this loses fragments rather than stalling the
// intake handler.
const snoopBuffer = 64

// Snoop captures the inbound audio of the given channel. It combines
// CreateStream and StopStream: a stream resource is created under a fresh id
// and the returned channel yields each raw fragment payload in arrival
// order, indefinitely (or until the remote channel completes), unless ctx is
// cancelled. Cancellation detaches the consumer and issues the stop command
// as a side effect; the returned channel is then closed.
//
// The fragment-bus subscription is armed before the create command is sent,
// so fragments that race the command response are not lost.
func (c *Client) Snoop(ctx context.Context, channel ResourceReference) (<-chan []byte, error) {
	id := uuid.NewString()

	s := &snoop{frames: make(chan []byte, snoopBuffer)}
	sub := c.audio.subscribe(func(f AudioFragment) {
		if f.StreamID != id {
			return
		}
		s.deliver(c, f.Payload)
	})

	if err := c.CreateStream(ctx, id, channel); err != nil {
		sub.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-c.closedCh:
		}
		sub.Close()
		s.close()

		c.logDebug("snoop_cancelled", map[string]any{"id": id})
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.StopStream(stopCtx, id, channel); err != nil {
			c.logError("snoop_stop_failed", map[string]any{"id": id, "err": err})
		}
	}()

	return s.frames, nil
}

// snoop guards the hand-off between the fragment bus (publisher goroutine)
// and the consumer channel so closing cannot race a concurrent delivery.
type snoop struct {
	mu     sync.Mutex
	closed bool
	frames chan []byte
}

func (s *snoop) deliver(c *Client, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- payload:
	default:
		c.logError("snoop_fragment_dropped", map[string]any{"len": len(payload)})
	}
}

func (s *snoop) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

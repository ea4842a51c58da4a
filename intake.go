package voiceapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// intakeChunkSize is the read granularity for inbound audio bodies. Each read
// becomes one AudioFragment on the bus.
const intakeChunkSize = 4096

// ServeHTTP implements the audio callback endpoint the platform pushes
// snooped audio to: PUT /stream/{id} with a raw byte-stream body. Every chunk
// read from the body is republished immediately as one AudioFragment tagged
// with the stream id; no correlation or buffering happens here. The fragment
// bus stays hot independent of subscriber churn, so fragments arriving in a
// gap between two taps are discarded rather than queued.
//
// Mount the client on the externally reachable address named by
// Config.CallbackEndpoint, e.g. http.ListenAndServe(addr, client).
func (c *Client) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/stream/")
	if id == r.URL.Path || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	buf := make([]byte, intakeChunkSize)
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			c.logDebug("audio_fragment", map[string]any{"stream": id, "len": n})
			c.audio.publish(AudioFragment{StreamID: id, Payload: payload})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logError("audio_intake_read_failed", map[string]any{"stream": id, "err": err})
			}
			break
		}
	}

	w.WriteHeader(http.StatusOK)
}

package voiceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// mockPlatform simulates the three server-side surfaces of the voice
// platform: the OAuth2 token endpoint, the event websocket and the command
// API. Tests point a Config at it and drive scenarios by queueing events and
// inspecting recorded requests.
type mockPlatform struct {
	t *testing.T

	tokenServer *httptest.Server
	eventServer *httptest.Server
	apiServer   *httptest.Server

	mu             sync.Mutex
	tokenRequests  int
	tokenError     string // when set, the token endpoint rejects with this OAuth2 error code
	wsConnects     int
	rejectConnects bool // when set, websocket upgrades are refused
	challenge      bool // when set, each connection starts with an authentication challenge
	conns          []*websocket.Conn
	wsReplies      [][]byte
	commands       []recordedCommand
	commandStatus  int // response status for command requests, 0 means 200
}

type recordedCommand struct {
	Method        string
	Path          string
	ContentType   string
	Authorization string
	Body          []byte
}

func newMockPlatform(t *testing.T) *mockPlatform {
	mp := &mockPlatform{t: t}
	mp.tokenServer = httptest.NewServer(http.HandlerFunc(mp.handleToken))
	mp.eventServer = httptest.NewServer(http.HandlerFunc(mp.handleEvents))
	mp.apiServer = httptest.NewServer(http.HandlerFunc(mp.handleCommand))
	return mp
}

func (mp *mockPlatform) Close() {
	mp.mu.Lock()
	for _, c := range mp.conns {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
	mp.mu.Unlock()
	mp.eventServer.Close()
	mp.tokenServer.Close()
	mp.apiServer.Close()
}

// Config returns a client configuration pointing at the mock platform.
func (mp *mockPlatform) Config() Config {
	return Config{
		APIEndpoint:       mp.apiServer.URL,
		EventEndpoint:     mp.eventServer.URL,
		TokenEndpoint:     mp.tokenServer.URL,
		CallbackEndpoint:  "https://bot.example.com",
		ApplicationID:     "test-app",
		ApplicationSecret: "test-secret",
	}
}

func (mp *mockPlatform) handleToken(w http.ResponseWriter, r *http.Request) {
	mp.mu.Lock()
	mp.tokenRequests++
	n := mp.tokenRequests
	tokenError := mp.tokenError
	mp.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		http.Error(w, "bad grant", http.StatusBadRequest)
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != "test-app" || secret != "test-secret" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client","error_description":"unknown application"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if tokenError != "" {
		fmt.Fprintf(w, `{"error":%q,"error_description":"rejected by test"}`, tokenError)
		return
	}
	fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d"}`, n, n)
}

func (mp *mockPlatform) handleEvents(w http.ResponseWriter, r *http.Request) {
	mp.mu.Lock()
	mp.wsConnects++
	reject := mp.rejectConnects
	challenge := mp.challenge
	mp.mu.Unlock()

	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // For testing only
	})
	if err != nil {
		return
	}

	mp.mu.Lock()
	mp.conns = append(mp.conns, conn)
	mp.mu.Unlock()

	if challenge {
		msg := []byte(`{"type":"authentication-challenge"}`)
		if err := conn.Write(r.Context(), websocket.MessageText, msg); err != nil {
			return
		}
	}

	// Record everything the client writes back until the connection drops.
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		mp.mu.Lock()
		mp.wsReplies = append(mp.wsReplies, data)
		mp.mu.Unlock()
	}
}

func (mp *mockPlatform) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	mp.mu.Lock()
	mp.commands = append(mp.commands, recordedCommand{
		Method:        r.Method,
		Path:          r.URL.Path,
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	status := mp.commandStatus
	mp.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

// SendEvent marshals msg and pushes it to the most recently connected client.
func (mp *mockPlatform) SendEvent(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		mp.t.Fatalf("failed to marshal event: %v", err)
	}
	mp.SendRaw(data)
}

// SendRaw pushes a raw frame to the most recently connected client.
func (mp *mockPlatform) SendRaw(data []byte) {
	mp.mu.Lock()
	if len(mp.conns) == 0 {
		mp.mu.Unlock()
		mp.t.Fatal("no websocket connection to send on")
	}
	conn := mp.conns[len(mp.conns)-1]
	mp.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		mp.t.Errorf("failed to write event: %v", err)
	}
}

// DropConnections closes every live websocket from the server side,
// simulating a transport failure.
func (mp *mockPlatform) DropConnections() {
	mp.mu.Lock()
	conns := mp.conns
	mp.conns = nil
	mp.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusInternalError, "dropped by test")
	}
}

func (mp *mockPlatform) setRejectConnects(v bool) {
	mp.mu.Lock()
	mp.rejectConnects = v
	mp.mu.Unlock()
}

func (mp *mockPlatform) setCommandStatus(status int) {
	mp.mu.Lock()
	mp.commandStatus = status
	mp.mu.Unlock()
}

func (mp *mockPlatform) connectCount() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.wsConnects
}

func (mp *mockPlatform) replies() [][]byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([][]byte, len(mp.wsReplies))
	copy(out, mp.wsReplies)
	return out
}

func (mp *mockPlatform) recordedCommands() []recordedCommand {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([]recordedCommand, len(mp.commands))
	copy(out, mp.commands)
	return out
}

// channelEventJSON builds a channel event payload as the platform emits it.
func channelEventJSON(eventType, id string) map[string]any {
	return map[string]any{
		"type": eventType,
		"resource": map[string]any{
			"type":      "channel",
			"id":        id,
			"reference": "https://api.example.com/channels/" + id,
		},
	}
}

// playbackEventJSON builds a playback event payload as the platform emits it.
func playbackEventJSON(eventType, id, lifecycle string) map[string]any {
	return map[string]any{
		"type": eventType,
		"resource": map[string]any{
			"type":      "channel-audio-playback",
			"id":        id,
			"reference": "https://api.example.com/channels/chan-1/playbacks/" + id,
		},
		"state": map[string]any{
			"lifecycle": lifecycle,
		},
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

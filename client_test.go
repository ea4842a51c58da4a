package voiceapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func dialTestClient(t *testing.T, mp *mockPlatform, mutate func(*Config)) *Client {
	t.Helper()
	cfg := mp.Config()
	cfg.Reconnect = ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDialEstablishesEventChannel(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()

	client := dialTestClient(t, mp, nil)

	if got := client.State(); got != StateOpen {
		t.Errorf("expected state open after dial, got %s", got)
	}
	if mp.connectCount() != 1 {
		t.Errorf("expected 1 websocket connect, got %d", mp.connectCount())
	}
	// Dial acquires an initial token pair to surface credential problems.
	mp.mu.Lock()
	tokenRequests := mp.tokenRequests
	mp.mu.Unlock()
	if tokenRequests != 1 {
		t.Errorf("expected 1 token request during dial, got %d", tokenRequests)
	}
}

func TestDialRejectsInvalidConfig(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDialFailsOnBadCredentials(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	mp.mu.Lock()
	mp.tokenError = "invalid_client"
	mp.mu.Unlock()

	_, err := Dial(context.Background(), mp.Config())
	if err == nil {
		t.Fatal("expected dial to fail on rejected credentials")
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T", err)
	}
	if authErr.Code != "invalid_client" {
		t.Errorf("expected code invalid_client, got %q", authErr.Code)
	}
}

func TestDialFailsWhenEventEndpointDown(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	mp.setRejectConnects(true)

	_, err := Dial(context.Background(), mp.Config())
	if err == nil {
		t.Fatal("expected dial to fail when websocket upgrade is refused")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestAuthenticationChallengeAnswered(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	mp.mu.Lock()
	mp.challenge = true
	mp.mu.Unlock()

	dialTestClient(t, mp, nil)

	waitFor(t, 2*time.Second, func() bool { return len(mp.replies()) > 0 }, "challenge reply")

	var reply struct {
		Command     string `json:"command"`
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(mp.replies()[0], &reply); err != nil {
		t.Fatalf("failed to parse challenge reply: %v", err)
	}
	if reply.Command != "access-token" {
		t.Errorf("expected access-token command, got %q", reply.Command)
	}
	if reply.AccessToken == "" {
		t.Error("expected a non-empty access token in challenge reply")
	}
}

func TestEventDispatch(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	client := dialTestClient(t, mp, nil)

	var mu sync.Mutex
	var received []Event
	sub := client.Subscribe(func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})
	defer sub.Close()

	mp.SendEvent(channelEventJSON("created", "chan-1"))
	mp.SendEvent(playbackEventJSON("updated", "pb-1", "completed"))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, "both events")

	mu.Lock()
	defer mu.Unlock()

	ch, ok := received[0].(ChannelEvent)
	if !ok {
		t.Fatalf("expected ChannelEvent, got %T", received[0])
	}
	if ch.Type != "created" || ch.ResourceRef.ID != "chan-1" {
		t.Errorf("unexpected channel event: %+v", ch)
	}

	pb, ok := received[1].(PlaybackEvent)
	if !ok {
		t.Fatalf("expected PlaybackEvent, got %T", received[1])
	}
	if pb.State.Lifecycle != LifecycleCompleted {
		t.Errorf("expected completed lifecycle, got %q", pb.State.Lifecycle)
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	client := dialTestClient(t, mp, nil)

	var mu sync.Mutex
	var received []Event
	sub := client.Subscribe(func(ev Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})
	defer sub.Close()

	mp.SendRaw([]byte(`{not json`))
	mp.SendRaw([]byte(`{"type":"updated","resource":{"type":"conference","id":"x"}}`))
	mp.SendEvent(channelEventJSON("created", "chan-2"))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, "the one mapped event")

	mu.Lock()
	defer mu.Unlock()
	if ch := received[0].(ChannelEvent); ch.ResourceRef.ID != "chan-2" {
		t.Errorf("expected chan-2, got %+v", received[0])
	}

	// The connection must have survived the bad frames.
	if client.State() != StateOpen {
		t.Errorf("expected state open, got %s", client.State())
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()

	var mu sync.Mutex
	var states []ConnectionState
	client := dialTestClient(t, mp, func(cfg *Config) {
		cfg.OnConnectionStateChange = func(s ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}
	})

	mp.DropConnections()

	waitFor(t, 5*time.Second, func() bool { return mp.connectCount() >= 2 }, "reconnect attempt")
	waitFor(t, 5*time.Second, func() bool { return client.State() == StateOpen }, "channel reopened")

	// The state sequence must pass through closed and connecting on the way
	// back to open.
	mu.Lock()
	defer mu.Unlock()
	sawClosed, sawReconnect := false, false
	for i, s := range states {
		if s == StateClosed {
			sawClosed = true
		}
		if sawClosed && s == StateConnecting && i > 0 {
			sawReconnect = true
		}
	}
	if !sawClosed || !sawReconnect {
		t.Errorf("expected closed then connecting in state sequence, got %v", states)
	}
}

func TestReconnectBudgetEndsInFailed(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()

	client := dialTestClient(t, mp, func(cfg *Config) {
		cfg.Reconnect = ReconnectPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Jitter:      0.1,
		}
	})

	mp.setRejectConnects(true)
	mp.DropConnections()

	waitFor(t, 5*time.Second, func() bool { return client.State() == StateFailed }, "terminal failed state")

	// Budget of 2 means the initial connect plus 2 reconnect attempts.
	if got := mp.connectCount(); got != 3 {
		t.Errorf("expected 3 connect attempts total, got %d", got)
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	client := dialTestClient(t, mp, nil)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	connects := mp.connectCount()
	time.Sleep(50 * time.Millisecond)
	if got := mp.connectCount(); got != connects {
		t.Errorf("client kept reconnecting after Close: %d -> %d", connects, got)
	}
}

func TestTokenSourceAccessor(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()
	client := dialTestClient(t, mp, nil)

	ts := client.TokenSource()
	if ts == nil {
		t.Fatal("expected a token source")
	}

	// Health checks acquire through the accessor; it must hit the configured
	// token endpoint with the client's credentials.
	tokens, err := ts.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire through accessor failed: %v", err)
	}
	if tokens.AccessToken == "" {
		t.Error("expected a non-empty access token")
	}
}

func TestCloseAbortsPendingHandshake(t *testing.T) {
	mp := newMockPlatform(t)
	defer mp.Close()

	// An event server that stalls the websocket upgrade until released,
	// long after the client has given up and closed.
	release := make(chan struct{})
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer stalled.Close()
	defer close(release)

	var mu sync.Mutex
	var states []ConnectionState
	cfg := mp.Config()
	cfg.EventEndpoint = stalled.URL
	cfg.OnConnectionStateChange = func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, cfg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected dial to time out, got %v", err)
	}

	// Release the stalled handshake and give a leaked supervisor every
	// chance to misbehave. Dial closed the client on the way out, so the
	// handshake must have been aborted and the channel must never open.
	release <- struct{}{}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range states {
		if s == StateOpen {
			t.Fatalf("event channel opened after the client was closed (states: %v)", states)
		}
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{name: "https to wss", endpoint: "https://events.example.com/ws", want: "wss://events.example.com/ws"},
		{name: "http to ws", endpoint: "http://events.example.com/ws", want: "ws://events.example.com/ws"},
		{name: "wss kept", endpoint: "wss://events.example.com", want: "wss://events.example.com"},
		{name: "ws kept", endpoint: "ws://events.example.com", want: "ws://events.example.com"},
		{name: "unsupported scheme", endpoint: "ftp://events.example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := websocketURL(tt.endpoint)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("websocketURL(%q) = %q, want %q", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{StateFailed, "failed"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

package voiceapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// ConnectionState describes the event channel's connection lifecycle.
// Transitions: StateIdle → StateConnecting → StateOpen → StateClosed →
// StateConnecting (automatic reconnect), or StateClosed → StateFailed once
// the reconnect attempt budget is spent.
type ConnectionState int32

const (
	// StateIdle is the state before the first connect is triggered.
	StateIdle ConnectionState = iota
	// StateConnecting means a websocket handshake is in progress.
	StateConnecting
	// StateOpen means the event websocket is established and being read.
	StateOpen
	// StateClosed means the transport terminated; a reconnect follows unless
	// the client was closed or the attempt budget is spent.
	StateClosed
	// StateFailed is terminal: the reconnect budget is exhausted. Operators
	// should treat this as a persistent outage of the event endpoint.
	StateFailed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// wsSignal is the internal connection-lifecycle signal that drives the
// supervisor goroutine. It is not exposed to consumers.
type wsSignal int

const (
	sigConnect wsSignal = iota
	sigReconnect
)

// Client is a connection to the voice platform. It owns the persistent event
// websocket, the multicast event and audio-fragment buses, and the command
// surface for channel, playback and stream resources. The client is safe for
// concurrent use across multiple goroutines.
type Client struct {
	cfg      Config
	tokens   *TokenSource
	http     *http.Client
	wsHTTP   *http.Client // No Timeout; the websocket outlives any request deadline
	eventURL string

	events *multicaster[Event]
	audio  *multicaster[AudioFragment]

	// Connection state
	signals   chan wsSignal
	firstConn chan error
	state     atomic.Int32
	closedCh  chan struct{}
	closeCtx  context.Context // Cancelled by Close; bounds in-flight handshakes
	closeFn   context.CancelFunc
	closeOnce sync.Once

	writeMu sync.Mutex // Protects conn and writes to it
	conn    *websocket.Conn
}

// Dial validates the configuration, performs an initial token acquisition to
// surface credential problems early, establishes the event websocket and
// starts the connection supervisor that keeps it alive for the lifetime of
// the process.
//
// The returned client is ready to use: events flow to subscribers as soon as
// the platform sends them. Call Close when finished.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.Reconnect = cfg.Reconnect.withDefaults()

	eventURL, err := websocketURL(cfg.EventEndpoint)
	if err != nil {
		return nil, NewConfigError("EventEndpoint", cfg.EventEndpoint, "invalid URL format")
	}

	httpClient := cfg.httpClient()
	closeCtx, closeFn := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		http:     httpClient,
		wsHTTP:   &http.Client{Transport: httpClient.Transport, Jar: httpClient.Jar},
		eventURL: eventURL,
		tokens: &TokenSource{
			Endpoint:          cfg.TokenEndpoint,
			ApplicationID:     cfg.ApplicationID,
			ApplicationSecret: cfg.ApplicationSecret,
			HTTPClient:        httpClient,
		},
		events:    newMulticaster[Event](),
		audio:     newMulticaster[AudioFragment](),
		signals:   make(chan wsSignal, 1),
		firstConn: make(chan error, 1),
		closedCh:  make(chan struct{}),
		closeCtx:  closeCtx,
		closeFn:   closeFn,
	}

	// Acquire an initial token pair so bad credentials fail the dial instead
	// of the first authentication challenge.
	if _, err := c.tokens.Acquire(ctx); err != nil {
		return nil, err
	}

	// Bootstrap the websocket by sending the initial connect signal; the
	// supervisor reports the outcome of this first attempt through firstConn.
	c.signal(sigConnect)
	go c.run()

	select {
	case err := <-c.firstConn:
		if err != nil {
			_ = c.Close()
			return nil, err
		}
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}

	return c, nil
}

// websocketURL maps the configured event endpoint onto a ws(s):// URL.
func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// run is the connection supervisor. It reacts to lifecycle signals: a connect
// signal dials the event endpoint, a reconnect signal does the same after the
// backoff dictated by the reconnect policy. The consecutive-failure counter
// resets on every successful connect.
func (c *Client) run() {
	attempts := 0
	for {
		select {
		case <-c.closedCh:
			return
		case sig := <-c.signals:
			if sig == sigReconnect {
				attempts++
				if c.cfg.Reconnect.exhausted(attempts) {
					c.logError("ws_reconnect_exhausted", map[string]any{"attempts": attempts - 1})
					c.setState(StateFailed)
					return
				}
				delay := c.cfg.Reconnect.delay(attempts - 1)
				c.log("ws_reconnect_wait", map[string]any{"attempt": attempts, "delay": delay.String()})
				select {
				case <-c.closedCh:
					return
				case <-time.After(delay):
				}
			}

			err := c.connect()
			if sig == sigConnect {
				c.firstConn <- err
				if err != nil {
					return
				}
			}
			if err != nil {
				select {
				case <-c.closedCh:
					return
				default:
				}
				c.logError("ws_connect_failed", map[string]any{"err": err})
				c.setState(StateClosed)
				c.signal(sigReconnect)
				continue
			}
			attempts = 0
		}
	}
}

// connect performs one websocket handshake and, on success, starts the read
// loop for that connection. Authentication happens in-band afterwards via the
// platform's challenge message, so the handshake itself carries no
// credentials.
func (c *Client) connect() error {
	c.setState(StateConnecting)

	// The dial context descends from the client lifetime so Close aborts an
	// in-flight handshake instead of leaving it to complete in the dark.
	dialCtx := c.closeCtx
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(dialCtx, c.cfg.DialTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, c.eventURL, &websocket.DialOptions{
		HTTPClient: c.wsHTTP,
	})
	if err != nil {
		return NewTransportError("dial", c.eventURL, err)
	}

	c.writeMu.Lock()
	select {
	case <-c.closedCh:
		// The client closed while the handshake was in flight; a connection
		// must not be installed on a closed client.
		c.writeMu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "client_closed")
		return ErrClosed
	default:
	}
	c.conn = ws
	c.writeMu.Unlock()

	c.setState(StateOpen)
	c.log("ws_connected", map[string]any{"url": c.eventURL})

	go c.readLoop(ws)
	return nil
}

// readLoop continuously reads messages from one websocket connection. When
// the connection terminates for any reason it emits a reconnect signal,
// unless the client itself was closed.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "reader_exit")
		c.writeMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.writeMu.Unlock()
		c.setState(StateClosed)

		select {
		case <-c.closedCh:
		default:
			c.signal(sigReconnect)
		}
	}()

	ctx := context.Background()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return // Connection closed or errored; the deferred cleanup reconnects
		}
		if typ != websocket.MessageText {
			continue
		}
		c.handleMessage(ctx, data)
	}
}

// handleMessage processes one inbound text frame. A malformed frame is fatal
// to that frame only: it is logged and dropped without touching the
// connection.
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logError("bad_event_json", map[string]any{"err": NewProtocolError(raw, err), "raw": string(raw)})
		return
	}

	if env.Type == "authentication-challenge" {
		c.answerChallenge(ctx)
		return
	}

	ev, ok, err := parseEvent(env, raw)
	if err != nil {
		c.logError("bad_event_payload", map[string]any{"err": err, "resource_type": env.Resource.Type})
		return
	}
	if !ok {
		c.logDebug("unmapped_resource_type", map[string]any{"resource_type": env.Resource.Type})
		return
	}

	c.events.publish(ev)
}

// answerChallenge requests fresh tokens and writes the access-token reply on
// the same connection. This is the only write path on the event channel.
func (c *Client) answerChallenge(ctx context.Context) {
	c.logDebug("auth_challenge", nil)

	tokens, err := c.tokens.Acquire(ctx)
	if err != nil {
		c.logError("auth_challenge_token_failed", map[string]any{"err": err})
		return
	}

	reply := map[string]any{"command": "access-token", "accessToken": tokens.AccessToken}
	if err := c.send(ctx, reply); err != nil {
		c.logError("auth_challenge_reply_failed", map[string]any{"err": err})
	}
}

func (c *Client) send(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewTransportError("write", c.eventURL, context.DeadlineExceeded)
		}
		return NewTransportError("write", c.eventURL, err)
	}
	return nil
}

// Subscribe registers handler to receive every event published after this
// call, in the order the transport delivered them. Delivery is multicast:
// each subscriber receives every event independently. The handler runs on the
// read loop goroutine and must not block. Closing the returned subscription
// stops delivery to this subscriber only.
func (c *Client) Subscribe(handler func(Event)) *Subscription {
	return c.events.subscribe(handler)
}

// State returns the current connection state of the event channel.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// TokenSource exposes the client's token source, e.g. for health checks.
func (c *Client) TokenSource() *TokenSource {
	return c.tokens
}

// Close shuts down the client: it stops the connection supervisor, closes the
// event websocket and releases all resources. Safe to call multiple times.
// After Close the client must not be used for further operations.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		if c.closeFn != nil {
			c.closeFn()
		}
	})

	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
		c.conn = nil
	}
	c.writeMu.Unlock()
	return nil
}

func (c *Client) signal(sig wsSignal) {
	select {
	case c.signals <- sig:
	default:
	}
}

func (c *Client) setState(s ConnectionState) {
	if ConnectionState(c.state.Swap(int32(s))) == s {
		return
	}
	if c.cfg.OnConnectionStateChange != nil {
		c.cfg.OnConnectionStateChange(s)
	}
}

func (c *Client) log(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Info(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger(event, fields)
	}
}

func (c *Client) logDebug(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Debug(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger(event, fields)
	}
}

func (c *Client) logError(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Error(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger("ERROR: "+event, fields)
	}
}

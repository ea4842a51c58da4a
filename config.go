package voiceapi

import (
	"net/http"
	"time"
)

// Config holds all configuration options for creating a voice API client.
// All fields marked as required must be provided for a successful dial.
type Config struct {
	// APIEndpoint is the base URL of the voice API REST endpoint.
	// Commands against channels, playbacks and streams are issued here.
	// Required: Yes
	APIEndpoint string

	// EventEndpoint is the URL of the voice API event websocket.
	// Accepts ws(s):// as well as http(s):// schemes.
	// Required: Yes
	EventEndpoint string

	// TokenEndpoint is the OAuth2 token endpoint used to acquire access
	// tokens with the client-credentials grant.
	// Required: Yes
	TokenEndpoint string

	// CallbackEndpoint is the external base URL on which this process is
	// reachable for inbound audio. Stream commands register
	// "<CallbackEndpoint>/stream/{id}" as the delivery target.
	// Required: Yes
	CallbackEndpoint string

	// ApplicationID is the OAuth2 application / client ID.
	// Required: Yes
	ApplicationID string

	// ApplicationSecret is the OAuth2 application / client secret.
	// Required: Yes
	ApplicationSecret string

	// DialTimeout sets the maximum time to wait for websocket connection
	// establishment. If zero, no timeout is applied.
	// Recommended: 15-30 seconds
	// Required: No
	DialTimeout time.Duration

	// HTTPClient is used for the token endpoint, all command requests and
	// the websocket handshake. If nil, a client with a 30 second timeout is
	// used.
	// Required: No
	HTTPClient *http.Client

	// Reconnect controls how the event channel re-establishes its websocket
	// after a drop. The zero value is replaced by DefaultReconnectPolicy.
	// Required: No
	Reconnect ReconnectPolicy

	// OnConnectionStateChange is called on every event channel state
	// transition. It runs on the client's internal goroutines (the
	// connection supervisor and the reader, which reports the closed
	// state) and must not block.
	// Required: No
	OnConnectionStateChange func(ConnectionState)

	// Logger is called for significant events and can be used for debugging
	// and monitoring. The fields parameter contains structured data relevant
	// to each event.
	// Required: No (if nil, no logging occurs)
	Logger func(event string, fields map[string]any)

	// StructuredLogger provides structured logging with configurable levels.
	// If both Logger and StructuredLogger are provided, StructuredLogger
	// takes precedence. Use NewLogger() or NewLoggerFromEnv() to create one.
	// Required: No
	StructuredLogger *Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

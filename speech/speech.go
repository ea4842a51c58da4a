// Package speech adapts the Deepgram speech APIs (text-to-speech and
// speech-to-text) to the byte-stream shapes the voice platform works with:
// synthesis produces 16 kHz 16-bit PCM WAV, the format playbacks require,
// and transcription consumes the raw fragment stream a snoop yields.
package speech

import (
	"errors"
	"net/http"
	"os"
	"time"
)

const (
	defaultSpeakEndpoint  = "https://api.deepgram.com/v1/speak"
	defaultListenEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultLanguage       = "nl"
	defaultSpeakModel     = "aura-2-thalia-en"
	defaultListenModel    = "nova-3"

	sampleRate = 16000
)

// Client provides speech synthesis and single-utterance transcription.
type Client struct {
	apiKey         string
	httpClient     *http.Client
	speakEndpoint  string
	listenEndpoint string
	language       string
	speakModel     string
	listenModel    string
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets the HTTP client used for synthesis requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the speak and listen endpoints, mainly for tests.
// Pass an empty string to keep a default.
func WithEndpoints(speak, listen string) Option {
	return func(c *Client) {
		if speak != "" {
			c.speakEndpoint = speak
		}
		if listen != "" {
			c.listenEndpoint = listen
		}
	}
}

// WithLanguage sets the transcription language code (default "nl").
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithModels sets the synthesis voice model and the transcription model.
// Pass an empty string to keep a default.
func WithModels(speak, listen string) Option {
	return func(c *Client) {
		if speak != "" {
			c.speakModel = speak
		}
		if listen != "" {
			c.listenModel = listen
		}
	}
}

// New creates a speech client. The API key is read from DEEPGRAM_API_KEY
// unless provided through WithAPIKey.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		apiKey:         os.Getenv("DEEPGRAM_API_KEY"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		speakEndpoint:  defaultSpeakEndpoint,
		listenEndpoint: defaultListenEndpoint,
		language:       defaultLanguage,
		speakModel:     defaultSpeakModel,
		listenModel:    defaultListenModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		return nil, errors.New("speech: api key not found")
	}
	return c, nil
}

package voiceapi

import (
	"errors"
	"fmt"
	"net/url"
)

// Common error variables
var (
	// ErrClosed is returned when attempting to use a client that has been
	// closed. Create a new client to resume operations.
	ErrClosed = errors.New("voiceapi: client is closed")

	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("voiceapi: invalid configuration")

	// ErrAuthentication is returned when the token endpoint rejects the
	// application credentials or returns a malformed body.
	ErrAuthentication = errors.New("voiceapi: authentication failed")

	// ErrRemoteAPI is returned when a command endpoint answers with a
	// non-success status.
	ErrRemoteAPI = errors.New("voiceapi: remote API call failed")

	// ErrTransport is returned for connection-level failures (DNS, TLS,
	// connection refused) on any outbound call.
	ErrTransport = errors.New("voiceapi: transport failure")

	// ErrProtocol is returned when an inbound event message cannot be parsed.
	ErrProtocol = errors.New("voiceapi: protocol error")

	// ErrConnectionFailed is returned when the event websocket cannot be
	// established.
	ErrConnectionFailed = errors.New("voiceapi: connection failed")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("voiceapi: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("voiceapi: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// AuthError represents a rejection by the OAuth2 token endpoint. Code and
// Description carry the error/error_description pair from the response body
// when the endpoint supplied one.
type AuthError struct {
	Code        string // OAuth2 error code (e.g. "invalid_client")
	Description string // Human-readable error description
	Cause       error  // The underlying error, if any
}

func (e *AuthError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("voiceapi: token acquisition failed: %s: %s", e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("voiceapi: token acquisition failed: %s", e.Code)
	case e.Cause != nil:
		return fmt.Sprintf("voiceapi: token acquisition failed: %v", e.Cause)
	}
	return "voiceapi: token acquisition failed"
}

// Unwrap returns the underlying error for error unwrapping.
func (e *AuthError) Unwrap() error { return e.Cause }

// Is implements error matching for AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

// RemoteAPIError represents a non-success response from a command endpoint.
type RemoteAPIError struct {
	Status int    // HTTP status code returned by the API
	Method string // HTTP method of the failed request
	URL    string // Request URL
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("voiceapi: %s %s returned status %d", e.Method, e.URL, e.Status)
}

// Is implements error matching for RemoteAPIError.
func (e *RemoteAPIError) Is(target error) bool {
	return target == ErrRemoteAPI
}

// TransportError represents a connection-level failure while talking to the
// remote system. It wraps the underlying network error with context.
type TransportError struct {
	Operation string // The operation that failed (e.g. "dial", "request")
	URL       string // The URL involved
	Cause     error  // The underlying error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voiceapi: %s failed for %q: %v", e.Operation, e.URL, e.Cause)
	}
	return fmt.Sprintf("voiceapi: %s failed for %q", e.Operation, e.URL)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *TransportError) Unwrap() error { return e.Cause }

// Is implements error matching for TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || target == ErrConnectionFailed
}

// ProtocolError represents a malformed inbound event message. It is fatal to
// that message only: the event channel logs it, drops the frame and keeps
// reading.
type ProtocolError struct {
	RawData []byte // The raw message (if available)
	Cause   error  // The underlying parsing error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("voiceapi: failed to parse event message: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Cause }

// Is implements error matching for ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// NewAuthError creates a new authentication error from an OAuth2 error body.
func NewAuthError(code, description string) *AuthError {
	return &AuthError{Code: code, Description: description}
}

// NewRemoteAPIError creates a new remote API error.
func NewRemoteAPIError(status int, method, url string) *RemoteAPIError {
	return &RemoteAPIError{Status: status, Method: method, URL: url}
}

// NewTransportError creates a new transport error.
func NewTransportError(operation, url string, cause error) *TransportError {
	return &TransportError{Operation: operation, URL: url, Cause: cause}
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(rawData []byte, cause error) *ProtocolError {
	return &ProtocolError{RawData: rawData, Cause: cause}
}

// ValidateConfig performs comprehensive configuration validation.
func ValidateConfig(cfg Config) error {
	for _, ep := range []struct {
		field string
		value string
	}{
		{"APIEndpoint", cfg.APIEndpoint},
		{"EventEndpoint", cfg.EventEndpoint},
		{"TokenEndpoint", cfg.TokenEndpoint},
		{"CallbackEndpoint", cfg.CallbackEndpoint},
	} {
		if ep.value == "" {
			return NewConfigError(ep.field, "", "cannot be empty")
		}
		if u, err := url.Parse(ep.value); err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigError(ep.field, ep.value, "invalid URL format")
		}
	}

	if cfg.ApplicationID == "" {
		return NewConfigError("ApplicationID", "", "cannot be empty")
	}

	if cfg.ApplicationSecret == "" {
		return NewConfigError("ApplicationSecret", "", "cannot be empty")
	}

	if cfg.DialTimeout < 0 {
		return NewConfigError("DialTimeout", cfg.DialTimeout.String(), "cannot be negative")
	}

	if err := cfg.Reconnect.validate(); err != nil {
		return err
	}

	return nil
}

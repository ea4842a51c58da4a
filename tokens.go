package voiceapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Tokens is one OAuth2 token pair issued by the token endpoint. Pairs are
// held in memory only and replaced wholesale on each acquisition.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// TokenSource acquires OAuth2 tokens from the platform's token endpoint with
// the client-credentials grant. Every Acquire performs a fresh acquisition:
// there is no caching and no request coalescing, so concurrent callers each
// trigger their own round trip. A production deployment should cache tokens
// and refresh near expiry behind a single-flight guard.
type TokenSource struct {
	// Endpoint is the OAuth2 token endpoint URL.
	Endpoint string
	// ApplicationID and ApplicationSecret form the HTTP Basic credentials.
	ApplicationID     string
	ApplicationSecret string
	// HTTPClient is used for token requests. If nil, http.DefaultClient.
	HTTPClient *http.Client
}

func (ts *TokenSource) httpClient() *http.Client {
	if ts.HTTPClient != nil {
		return ts.HTTPClient
	}
	return http.DefaultClient
}

// Acquire fetches a fresh token pair. It fails with *AuthError when the
// endpoint rejects the credentials or returns a body without an access
// token, and with *TransportError on connection-level failures.
func (ts *TokenSource) Acquire(ctx context.Context) (Tokens, error) {
	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Tokens{}, NewTransportError("token request", ts.Endpoint, err)
	}
	req.SetBasicAuth(ts.ApplicationID, ts.ApplicationSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := ts.httpClient().Do(req)
	if err != nil {
		return Tokens{}, NewTransportError("token request", ts.Endpoint, err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Tokens{}, &AuthError{Cause: err}
	}

	if body.Error != "" || body.AccessToken == "" {
		return Tokens{}, NewAuthError(body.Error, body.ErrorDescription)
	}
	if resp.StatusCode/100 != 2 {
		return Tokens{}, NewAuthError(resp.Status, "")
	}

	return Tokens{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}, nil
}

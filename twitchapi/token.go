package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// earlyExpiry is how long before expiry a cached app token is considered stale.
const earlyExpiry = time.Minute

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// App tokens are enough for Helix lookups; IRC chat and whispers need the bot's user token.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Get returns the cached app token, fetching a new one when it is missing or about to expire.
// Concurrent callers wait for a single fetch.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > earlyExpiry {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := grant(ctx, hc, "app token request", url.Values{
		"client_id":     {ts.ClientID},
		"client_secret": {ts.ClientSecret},
		"grant_type":    {"client_credentials"},
	}, &res)
	if err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = res.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	return ts.token, nil
}

// SetToken seeds the cache, e.g. with a token obtained elsewhere.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	ts.token, ts.expiresAt = token, expiresAt
	ts.mu.Unlock()
}

// Invalidate drops the cached token so the next Get fetches a new one.
func (ts *TokenSource) Invalidate() { ts.SetToken("", time.Time{}) }

package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// oauthBaseURL is the Twitch identity endpoint; tests point it at a local server.
var oauthBaseURL = "https://id.twitch.tv/oauth2"

// HTTPClient is used by the code-grant helpers; nil means http.DefaultClient.
var HTTPClient *http.Client

func oauthClient() *http.Client {
	if HTTPClient != nil {
		return HTTPClient
	}
	return http.DefaultClient
}

// OAuthError is a non-200 answer from the Twitch identity service.
type OAuthError struct {
	Op      string
	Status  int
	Message string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("twitch %s failed: %d %s", e.Op, e.Status, e.Message)
}

// AuthCodeExchangeResult is the token response of an authorization_code grant.
type AuthCodeExchangeResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// RefreshResult represents the response from a refresh_token grant; Twitch
// rotates the refresh token so callers must persist the returned one.
type RefreshResult = AuthCodeExchangeResult

// readOAuthError turns an error response into *OAuthError, preferring the JSON message field.
func readOAuthError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &OAuthError{Op: op, Status: resp.StatusCode, Message: msg}
}

// grant posts form to the token endpoint and decodes the JSON answer into out.
func grant(ctx context.Context, hc *http.Client, op string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthBaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("twitch %s: %w", op, err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return readOAuthError(op, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BuildAuthorizeURL constructs the user authorization URL for OAuth code grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if s := strings.Join(strings.Fields(strings.ReplaceAll(scopes, ",", " ")), " "); s != "" {
		v.Set("scope", s)
	}
	if state != "" {
		v.Set("state", state)
	}
	return oauthBaseURL + "/authorize?" + v.Encode(), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*AuthCodeExchangeResult, error) {
	if clientID == "" || clientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	var res AuthCodeExchangeResult
	err := grant(ctx, oauthClient(), "auth code exchange", url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// RefreshToken exchanges a refresh token for a new access token.
func RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*RefreshResult, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	var res RefreshResult
	err := grant(ctx, oauthClient(), "refresh", url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Validation is what Twitch reports about a user access token.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// HasScope reports whether the token was granted scope.
func (v *Validation) HasScope(scope string) bool { return slices.Contains(v.Scopes, scope) }

// ValidateToken asks Twitch who owns token and what it may do. A revoked or
// expired token yields an *OAuthError with Status 401.
func ValidateToken(ctx context.Context, token string) (*Validation, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "oauth:")
	if token == "" {
		return nil, errors.New("empty token")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oauthBaseURL+"/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	resp, err := oauthClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitch validate: %w", err)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, readOAuthError("validate", resp)
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

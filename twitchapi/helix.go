// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs:
// user id resolution for the bot account and whisper delivery for private replies.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
var ErrUserNotFound = errors.New("user not found")

// HelixClient provides the Helix calls the chat transport needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// MaxAttempts bounds retries for 401/429/5xx responses; zero means 3.
	MaxAttempts int
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) attempts() int {
	if hc.MaxAttempts > 0 {
		return hc.MaxAttempts
	}
	return 3
}

// do sends a Helix request built by build. A 401 on an app token invalidates the
// cached token and retries; 429 and 5xx back off briefly and retry.
func (hc *HelixClient) do(ctx context.Context, build func(token string) (*http.Request, error), userToken string) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= hc.attempts(); attempt++ {
		tok := userToken
		if tok == "" {
			if hc.AppTokenSource == nil {
				return nil, errors.New("no helix token source configured")
			}
			var err error
			if tok, err = hc.AppTokenSource.Get(ctx); err != nil {
				return nil, err
			}
		}
		req, err := build(tok)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized && userToken == "":
			drain(resp)
			hc.AppTokenSource.Invalidate()
			lastErr = fmt.Errorf("helix %s: unauthorized", req.URL.Path)
			continue
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			drain(resp)
			lastErr = fmt.Errorf("helix %s: %s", req.URL.Path, resp.Status)
			if attempt < hc.attempts() {
				if err := sleepCtx(ctx, retryDelay(resp, attempt)); err != nil {
					return nil, err
				}
			}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	resp, err := hc.do(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBaseURL+"/users", nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("login", login)
		req.URL.RawQuery = q.Encode()
		return req, nil
	}, "")
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("helix users failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", ErrUserNotFound
	}
	return body.Data[0].ID, nil
}

// SendWhisper delivers a whisper from fromID to toID. Whispers require a user
// token with the user:manage:whispers scope; app tokens are rejected by Twitch.
func (hc *HelixClient) SendWhisper(ctx context.Context, userToken, fromID, toID, text string) error {
	if userToken == "" {
		return errors.New("whisper requires a user access token")
	}
	if fromID == "" || toID == "" {
		return errors.New("whisper requires sender and recipient ids")
	}
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return err
	}
	resp, err := hc.do(ctx, func(string) (*http.Request, error) {
		q := url.Values{}
		q.Set("from_user_id", fromID)
		q.Set("to_user_id", toID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, helixBaseURL+"/whispers?"+q.Encode(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, userToken)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix whisper failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

func retryDelay(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		// Ratelimit-Reset is a unix timestamp in seconds
		var reset int64
		if _, err := fmt.Sscanf(resp.Header.Get("Ratelimit-Reset"), "%d", &reset); err == nil && reset > 0 {
			if d := time.Until(time.Unix(reset, 0)); d > 0 && d < 5*time.Second {
				return d
			}
		}
	}
	return time.Duration(attempt) * 100 * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	closeBody(resp)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

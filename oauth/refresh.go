// Package oauth provides generic token refresh scheduling for providers whose
// tokens are persisted in the oauth_tokens table. It performs jittered checks
// and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/onnwee/solarbot/telemetry"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Store is the token persistence the refresher needs; *db.Store satisfies it.
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// Refresher keeps one provider's token fresh.
type Refresher struct {
	Store    Store
	Provider string
	// Interval is how often to wake up and check; Window is how close to expiry a refresh starts.
	Interval time.Duration
	Window   time.Duration
	Refresh  RefreshFunc
	// OnRefresh, when set, receives the new access token after it is persisted.
	OnRefresh func(access string)
}

// ErrNoRefreshToken is returned by Check when the stored row cannot be refreshed.
var ErrNoRefreshToken = errors.New("no refresh token stored")

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
}

// Check refreshes the token once if it is inside the window. It reports whether a refresh happened.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	at, rt, exp, scope, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if at == "" && rt == "" {
		return false, nil
	}
	if rt == "" {
		return false, ErrNoRefreshToken
	}
	// If still outside window skip quickly
	if !exp.IsZero() && time.Until(exp) > r.Window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := r.Refresh(ctx2, rt)
	cancel()
	if err != nil {
		telemetry.IncTokenRefresh(r.Provider, "error")
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		telemetry.IncTokenRefresh(r.Provider, "persist_error")
		return false, err
	}
	telemetry.IncTokenRefresh(r.Provider, "ok")
	if r.OnRefresh != nil {
		r.OnRefresh(newAT)
	}
	return true, nil
}

// Start launches a goroutine that periodically runs Check until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	r.defaults()
	log := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", r.Provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int64N(int64(r.Interval/2) + 1))
	go func() {
		if !sleep(ctx, initialJitter) {
			return
		}
		for {
			refreshed, err := r.Check(ctx)
			switch {
			case errors.Is(err, ErrNoRefreshToken):
				log.Debug("token has no refresh token; skipping")
			case err != nil:
				log.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				log.Info("token refreshed")
			}
			// Add per-iteration jitter (+/-20% of interval) for scheduling diversity.
			jitterRange := int64(r.Interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int64N(jitterRange*2+1) - jitterRange)
			if !sleep(ctx, max(r.Interval+jitter, r.Interval/2)) {
				return
			}
		}
	}()
}

// StartRefresher is shorthand for building and starting a Refresher.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) *Refresher {
	r := &Refresher{Store: store, Provider: provider, Interval: interval, Window: window, Refresh: fn}
	r.Start(ctx)
	return r
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

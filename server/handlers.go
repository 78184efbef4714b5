package server

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/solarbot/bot"
	"github.com/onnwee/solarbot/config"
	"github.com/onnwee/solarbot/db"
	"github.com/onnwee/solarbot/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// StatusSource reports the bot's conversational state; *bot.Bot satisfies it.
type StatusSource interface {
	Snapshot() bot.State
}

// ChatStatus reports whether the chat connection is up; *twitchchat.Client satisfies it.
type ChatStatus interface {
	Ready() bool
}

// Deps are the collaborators the HTTP surface reads from. Store, Bot, Chat and
// YouTube are optional.
type Deps struct {
	Config  *config.Config
	Store   *db.Store
	Bot     StatusSource
	Chat    ChatStatus
	YouTube *youtubeapi.Service
	Started time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}
	return &Handlers{
		deps:       deps,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states. Callers hold stateMu.
func (h *Handlers) cleanExpiredStates(now time.Time) {
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState remembers state until expiry. It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates(time.Now())
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState deletes state and reports whether it was known and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func (h *Handlers) ping(ctx context.Context) error {
	if h.deps.Store == nil {
		return nil
	}
	return h.deps.Store.Ping(ctx)
}

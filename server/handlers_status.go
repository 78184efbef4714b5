package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/solarbot/bot"
	"github.com/onnwee/solarbot/telemetry"
)

const maxRecentReplies = 200

type statusResponse struct {
	State          *bot.State  `json:"state,omitempty"`
	ChatConnected  bool        `json:"chat_connected"`
	Channels       []string    `json:"channels"`
	SearchEnabled  bool        `json:"search_enabled"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	RecentReplies  []bot.Reply `json:"recent_replies,omitempty"`
	RepliesEnabled bool        `json:"replies_logged"`
}

// HandleStatus reports the bot's conversational state and, when a store is
// configured, the most recent replies (?limit=N, default 20).
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Channels:       h.deps.Config.TwitchChannels,
		SearchEnabled:  h.deps.Config.SearchEnabled(),
		UptimeSeconds:  int64(time.Since(h.deps.Started).Seconds()),
		RepliesEnabled: h.deps.Store != nil,
	}
	if h.deps.Bot != nil {
		st := h.deps.Bot.Snapshot()
		resp.State = &st
	}
	if h.deps.Chat != nil {
		resp.ChatConnected = h.deps.Chat.Ready()
	}
	if h.deps.Store != nil {
		limit := parseIntQuery(r, "limit", 20)
		if limit <= 0 || limit > maxRecentReplies {
			http.Error(w, "limit must be between 1 and "+strconv.Itoa(maxRecentReplies), http.StatusBadRequest)
			return
		}
		replies, err := h.deps.Store.RecentReplies(r.Context(), limit)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Error("load recent replies", slog.Any("err", err), slog.String("component", "http"))
			http.Error(w, "failed to load replies", http.StatusInternalServerError)
			return
		}
		resp.RecentReplies = replies
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		return -1
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err), slog.String("component", "http"))
	}
}

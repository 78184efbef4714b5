// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required chat credentials, use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/solarbot/crypto"
)

// DefaultChannel is the channel used when neither TWITCH_CHANNELS nor TWITCH_CHANNEL is set.
const DefaultChannel = ""

const (
	defaultGenericReplyChance = 0.1
	defaultYeahReplyChance    = 0.5
)

type Config struct {
	// Twitch
	TwitchChannels     []string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// YouTube search: API key, or OAuth client with a stored token
	YTAPIKey       string
	YTClientID     string
	YTClientSecret string
	YTRedirectURI  string
	YTScopes       string

	// Responder
	GenericReplyChance float64
	YeahReplyChance    float64

	// Media replies are posted as MediaBaseURL + file name.
	MediaBaseURL string

	// Database (optional)
	DBDsn string

	// Token encryption at rest. ENCRYPTION_PREVIOUS_KEYS is "id:key,..." for rotation.
	EncryptionKey          string
	EncryptionKeyID        string
	EncryptionPreviousKeys string

	// HTTP
	HTTPAddr string

	// Admin protection for the /auth endpoints. Unset means unprotected.
	AdminUsername string
	AdminPassword string
	AdminToken    string

	// Per-IP limit for the /auth endpoints.
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load reads environment variables and applies defaults. Missing credentials do not fail here;
// use ValidateChatReady() before connecting to chat. Malformed values (e.g. a chance outside [0,1]) do.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannels = splitList(os.Getenv("TWITCH_CHANNELS"))
	if len(cfg.TwitchChannels) == 0 {
		if ch := strings.TrimSpace(os.Getenv("TWITCH_CHANNEL")); ch != DefaultChannel {
			cfg.TwitchChannels = []string{ch}
		}
	}
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// chat plus whisper replies
		cfg.TwitchScopes = "chat:read chat:edit user:manage:whispers"
	}

	// YouTube
	cfg.YTAPIKey = os.Getenv("YT_API_KEY")
	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRedirectURI = os.Getenv("YT_REDIRECT_URI")
	cfg.YTScopes = os.Getenv("YT_SCOPES")
	if cfg.YTScopes == "" {
		cfg.YTScopes = "https://www.googleapis.com/auth/youtube.readonly"
	}

	var err error
	if cfg.GenericReplyChance, err = chanceEnv("BOT_GENERIC_REPLY_CHANCE", defaultGenericReplyChance); err != nil {
		return nil, err
	}
	if cfg.YeahReplyChance, err = chanceEnv("BOT_YEAH_REPLY_CHANCE", defaultYeahReplyChance); err != nil {
		return nil, err
	}

	cfg.MediaBaseURL = os.Getenv("MEDIA_BASE_URL")
	if cfg.MediaBaseURL != "" && !strings.HasSuffix(cfg.MediaBaseURL, "/") {
		cfg.MediaBaseURL += "/"
	}

	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	cfg.EncryptionKeyID = os.Getenv("ENCRYPTION_KEY_ID")
	if cfg.EncryptionKeyID == "" {
		cfg.EncryptionKeyID = "default"
	}
	cfg.EncryptionPreviousKeys = os.Getenv("ENCRYPTION_PREVIOUS_KEYS")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.RateLimitEnabled = os.Getenv("RATE_LIMIT_ENABLED") != "0"
	cfg.RateLimitRequests = positiveIntEnv("RATE_LIMIT_REQUESTS_PER_IP", 10)
	cfg.RateLimitWindow = time.Duration(positiveIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second

	return cfg, nil
}

// ValidateChatReady checks the fields required to join chat. The IRC token may come from the
// token store instead of TWITCH_OAUTH_TOKEN, so only its absence together with a missing DB fails.
func (c *Config) ValidateChatReady() error {
	if len(c.TwitchChannels) == 0 || c.TwitchBotUsername == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL(S), TWITCH_BOT_USERNAME")
	}
	if c.TwitchOAuthToken == "" && c.DBDsn == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_OAUTH_TOKEN or DB_DSN with a stored token")
	}
	return nil
}

// SearchEnabled reports whether video search can authenticate at all.
func (c *Config) SearchEnabled() bool {
	return c.YTAPIKey != "" || (c.YTClientID != "" && c.DBDsn != "")
}

func chanceEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("invalid %s: %v not in [0,1]", key, f)
	}
	return f, nil
}

// positiveIntEnv returns the integer value of key, or def when unset, malformed or not positive.
func positiveIntEnv(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return n
	}
	return def
}

// AdminAuthEnabled reports whether basic or token auth is configured for admin routes.
func (c *Config) AdminAuthEnabled() bool {
	return (c.AdminUsername != "" && c.AdminPassword != "") || c.AdminToken != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Keyring builds the token keyring. It returns nil, nil when ENCRYPTION_KEY is unset.
func (c *Config) Keyring() (*crypto.Keyring, error) {
	if c.EncryptionKey == "" {
		if c.EncryptionPreviousKeys != "" {
			return nil, fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS set without ENCRYPTION_KEY")
		}
		return nil, nil
	}
	prev, err := crypto.ParseKeyList(c.EncryptionPreviousKeys)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS: %w", err)
	}
	k, err := crypto.NewKeyring(c.EncryptionKeyID, c.EncryptionKey, prev)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return k, nil
}

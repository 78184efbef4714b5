// Command solarbot runs the Twitch chat bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres or SQLite for OAuth tokens and the reply log.
//   - Joins the configured Twitch channels and answers messages.
//   - Keeps the Twitch and YouTube OAuth tokens fresh.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and /auth.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/solarbot/bot"
	"github.com/onnwee/solarbot/config"
	"github.com/onnwee/solarbot/db"
	"github.com/onnwee/solarbot/oauth"
	"github.com/onnwee/solarbot/server"
	"github.com/onnwee/solarbot/telemetry"
	"github.com/onnwee/solarbot/twitchapi"
	"github.com/onnwee/solarbot/twitchchat"
	"github.com/onnwee/solarbot/youtubeapi"
)

var errNoChatToken = errors.New("no twitch chat token: set TWITCH_OAUTH_TOKEN or authorize via /auth/twitch/start")

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("solarbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("solarbot exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(ctx context.Context, cfg *config.Config) error {
	var store *db.Store
	if cfg.DBDsn != "" {
		s, err := db.Connect(cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("dialect", string(s.Dialect)), slog.String("component", "db_migrate"))
		if err := s.Migrate(); err != nil {
			return err
		}
		keys, err := cfg.Keyring()
		if err != nil {
			return err
		}
		if keys == nil {
			slog.Warn("ENCRYPTION_KEY not set; oauth tokens are stored in plaintext", slog.String("component", "db"))
		} else {
			s.Keys = keys
			n, err := s.ResealOAuthTokens(ctx)
			if err != nil {
				return fmt.Errorf("reseal oauth tokens: %w", err)
			}
			if n > 0 {
				slog.Info("resealed oauth tokens", slog.Int("count", n), slog.String("key_id", keys.CurrentID()), slog.String("component", "db"))
			}
		}
		store = s
	} else {
		slog.Info("DB_DSN not set; running without token store or reply log", slog.String("component", "db"))
	}

	var tokens youtubeapi.TokenStore
	if store != nil {
		tokens = &db.TokenStoreAdapter{Store: store}
	}
	yt := youtubeapi.New(cfg, tokens)

	opts := bot.Options{
		GenericReplyChance: cfg.GenericReplyChance,
		YeahReplyChance:    cfg.YeahReplyChance,
	}
	if cfg.SearchEnabled() {
		opts.Searcher = yt
	} else {
		slog.Warn("video search disabled (set YT_API_KEY, or YT_CLIENT_ID with DB_DSN)", slog.String("component", "youtube"))
	}
	if store != nil {
		opts.Recorder = store
	}
	b := bot.New(opts)

	chat, err := newChat(ctx, cfg, store, b)
	if err != nil {
		slog.Error("chat disabled", slog.Any("err", err), slog.String("component", "twitchchat"))
	}

	if store != nil {
		startRefreshers(ctx, cfg, store, yt, chat)
	}

	deps := server.Deps{Config: cfg, Store: store, Bot: b, YouTube: yt, Started: time.Now()}
	if chat != nil {
		deps.Chat = chat
	}
	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Start(ctx, cfg.HTTPAddr, server.NewRouter(ctx, deps)) }()

	if chat == nil {
		select {
		case <-ctx.Done():
			return nil
		case err := <-srvErr:
			return err
		}
	}

	chatErr := make(chan error, 1)
	go func() { chatErr <- chat.Run(ctx) }()
	select {
	case <-ctx.Done():
		<-chatErr
		return nil
	case err := <-chatErr:
		return err
	case err := <-srvErr:
		return err
	}
}

// newChat builds the Twitch chat client. A nil client with an error means chat
// is not configured; the HTTP surface still runs so tokens can be authorized.
func newChat(ctx context.Context, cfg *config.Config, store *db.Store, b *bot.Bot) (*twitchchat.Client, error) {
	if err := cfg.ValidateChatReady(); err != nil {
		return nil, err
	}
	token := cfg.TwitchOAuthToken
	if token == "" && store != nil {
		access, _, _, _, err := store.GetOAuthToken(ctx, "twitch")
		if err != nil {
			return nil, err
		}
		token = access
	}
	if token == "" {
		return nil, errNoChatToken
	}
	if err := checkChatToken(ctx, cfg, token); err != nil {
		return nil, err
	}

	opts := twitchchat.Options{
		Username:     cfg.TwitchBotUsername,
		Token:        token,
		Channels:     cfg.TwitchChannels,
		MediaBaseURL: cfg.MediaBaseURL,
	}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		opts.Helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	} else {
		slog.Warn("TWITCH_CLIENT_ID/SECRET not set; whispers disabled", slog.String("component", "twitchchat"))
	}
	return twitchchat.New(opts, b)
}

// checkChatToken rejects revoked tokens and warns about ones that cannot do everything the bot needs.
func checkChatToken(ctx context.Context, cfg *config.Config, token string) error {
	vctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	v, err := twitchapi.ValidateToken(vctx, token)
	var oe *twitchapi.OAuthError
	switch {
	case errors.As(err, &oe) && oe.Status == http.StatusUnauthorized:
		return fmt.Errorf("twitch chat token rejected: %w", err)
	case err != nil:
		slog.Warn("could not validate twitch chat token", slog.Any("err", err), slog.String("component", "twitchchat"))
		return nil
	}
	if !strings.EqualFold(v.Login, cfg.TwitchBotUsername) {
		slog.Warn("twitch chat token belongs to another account",
			slog.String("token_login", v.Login),
			slog.String("bot_username", cfg.TwitchBotUsername),
			slog.String("component", "twitchchat"))
	}
	if !v.HasScope("user:manage:whispers") {
		slog.Warn("twitch chat token lacks user:manage:whispers; whisper replies will fail", slog.String("component", "twitchchat"))
	}
	return nil
}

func startRefreshers(ctx context.Context, cfg *config.Config, store *db.Store, yt *youtubeapi.Service, chat *twitchchat.Client) {
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		r := &oauth.Refresher{
			Store:    store,
			Provider: "twitch",
			Interval: 5 * time.Minute,
			Window:   15 * time.Minute,
			Refresh: func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
			},
		}
		// an explicit TWITCH_OAUTH_TOKEN wins over the stored one
		if chat != nil && cfg.TwitchOAuthToken == "" {
			r.OnRefresh = chat.SetToken
		}
		r.Start(ctx)
	}
	if cfg.YTClientID != "" && cfg.YTAPIKey == "" {
		oauth.StartRefresher(ctx, store, "youtube", 10*time.Minute, 20*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			tok, err := yt.Refresh(rctx, refreshToken)
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return tok.AccessToken, tok.RefreshToken, tok.Expiry, "", nil
		})
	}
}

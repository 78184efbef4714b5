// Package server exposes the bot's HTTP surface: health and readiness probes,
// Prometheus metrics, a status view of the conversational state and the OAuth
// flows that store the Twitch and YouTube credentials.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(deps)
	cfg := h.deps.Config
	limiter := newIPRateLimiter(ctx, cfg.RateLimitEnabled, max(cfg.RateLimitRequests, 1), max(cfg.RateLimitWindow, time.Second))

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(traceRequests)

	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Get("/status", h.HandleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(rateLimit(limiter))
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin(newAuthConfig(cfg)))
			r.Get("/twitch/start", h.HandleTwitchOAuthStart)
			r.Get("/youtube/start", h.HandleYouTubeOAuthStart)
		})
		// provider redirects carry no admin credentials; the state token guards them
		r.Get("/twitch/callback", h.HandleTwitchOAuthCallback)
		r.Get("/youtube/callback", h.HandleYouTubeOAuthCallback)
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", ln.Addr().String()), slog.String("component", "http"))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

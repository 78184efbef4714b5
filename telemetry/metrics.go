// Package telemetry provides Prometheus metrics and OpenTelemetry tracing, plus correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesReceived prometheus.Counter
	MessageErrors    prometheus.Counter
	CommandsMatched  *prometheus.CounterVec // label: command
	RepliesSent      *prometheus.CounterVec // label: rule
	VideoSearches    *prometheus.CounterVec // label: result
	TokenRefreshes   *prometheus.CounterVec // labels: provider, result

	// Histograms (seconds)
	MessageDuration     prometheus.Observer
	VideoSearchDuration prometheus.Observer

	// Gauges
	ChatConnectedGauge prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "solarbot_messages_received_total", Help: "Number of inbound chat messages handled"})
		MessageErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "solarbot_message_errors_total", Help: "Number of messages whose handling returned an error"})
		CommandsMatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "solarbot_commands_matched_total", Help: "Number of messages classified as a command"}, []string{"command"})
		RepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "solarbot_replies_sent_total", Help: "Number of replies sent, by rule"}, []string{"rule"})
		VideoSearches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "solarbot_video_searches_total", Help: "Number of video searches, by result"}, []string{"result"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "solarbot_token_refreshes_total", Help: "Number of OAuth token refresh attempts"}, []string{"provider", "result"})
		MessageDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "solarbot_message_duration_seconds", Help: "Time spent handling one message", Buckets: prometheus.DefBuckets})
		VideoSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "solarbot_video_search_duration_seconds", Help: "Video search latency seconds", Buckets: prometheus.DefBuckets})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "solarbot_chat_connected", Help: "Chat connection state connected=1 disconnected=0"})
	})
}

// IncMessage counts one inbound message.
func IncMessage() {
	if MessagesReceived != nil {
		MessagesReceived.Inc()
	}
}

// IncMessageError counts one failed message handling.
func IncMessageError() {
	if MessageErrors != nil {
		MessageErrors.Inc()
	}
}

// IncCommand counts one matched command.
func IncCommand(command string) {
	if CommandsMatched != nil {
		CommandsMatched.WithLabelValues(command).Inc()
	}
}

// IncReply counts one sent reply for the rule that produced it.
func IncReply(rule string) {
	if RepliesSent != nil {
		RepliesSent.WithLabelValues(rule).Inc()
	}
}

// IncVideoSearch counts one video search outcome (ok, no_results, error, decoy).
func IncVideoSearch(result string) {
	if VideoSearches != nil {
		VideoSearches.WithLabelValues(result).Inc()
	}
}

// IncTokenRefresh counts one token refresh attempt.
func IncTokenRefresh(provider, result string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(provider, result).Inc()
	}
}

// SetChatConnected sets gauge to 1 if connected else 0.
func SetChatConnected(connected bool) {
	if ChatConnectedGauge == nil {
		return
	}
	if connected {
		ChatConnectedGauge.Set(1)
	} else {
		ChatConnectedGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

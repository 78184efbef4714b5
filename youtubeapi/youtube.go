// Package youtubeapi wraps the YouTube Data API for the single purpose of
// finding the top video for a chat query. Requests authenticate with an API
// key when one is configured, otherwise with an OAuth token persisted via the
// provided TokenStore so it can be refreshed and reused.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/solarbot/config"
	"github.com/onnwee/solarbot/telemetry"
)

const provider = "youtube"

// ErrNoResults is wrapped in a SearchError when a search returns no video.
var ErrNoResults = errors.New("no video results")

// SearchError reports a failed search for Query.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string { return fmt.Sprintf("youtube search %q: %v", e.Query, e.Err) }
func (e *SearchError) Unwrap() error { return e.Err }

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

type Service struct {
	cfg   *config.Config
	db    TokenStore
	oauth *oauth2.Config
	opts  []option.ClientOption
}

// New builds the search service. ts may be nil when an API key is configured.
// Extra client options are applied to every API client (tests point the endpoint elsewhere).
func New(cfg *config.Config, ts TokenStore, opts ...option.ClientOption) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube.readonly"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, db: ts, oauth: oauth, opts: opts}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if s.db == nil {
		return nil, errors.New("no token store configured")
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	rawBytes, _ := json.Marshal(tok)
	if err := s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(rawBytes)); err != nil {
		return nil, fmt.Errorf("store youtube token: %w", err)
	}
	return tok, nil
}

// Refresh exchanges a refresh token for a new token. Used by the background refresher.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if s.oauth.ClientID == "" {
		return nil, errors.New("youtube oauth not configured")
	}
	return s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, raw, err := s.db.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no youtube token stored")
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return &tok, err
	}
	rawBytes, _ := json.Marshal(newTok)
	_ = s.db.UpsertOAuthToken(ctx, provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, string(rawBytes))
	return newTok, nil
}

// Client returns a YouTube API client authenticated by API key or stored OAuth token.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	opts := append([]option.ClientOption(nil), s.opts...)
	if s.cfg.YTAPIKey != "" {
		return yt.NewService(ctx, append(opts, option.WithAPIKey(s.cfg.YTAPIKey))...)
	}
	if s.db == nil {
		return nil, errors.New("youtube search not configured: set YT_API_KEY or authorize via oauth")
	}
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	return yt.NewService(ctx, append(opts, option.WithHTTPClient(s.oauth.Client(ctx, tok)))...)
}

// SearchTopVideo returns the id of the top video result for query.
func (s *Service) SearchTopVideo(ctx context.Context, query string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "youtubeapi", "youtube.search", attribute.String("query", query))
	defer span.End()

	var id string
	var err error
	telemetry.TimeFunc(telemetry.VideoSearchDuration, func() {
		var svc *yt.Service
		if svc, err = s.Client(ctx); err != nil {
			err = &SearchError{Query: query, Err: err}
			return
		}
		id, err = SearchTopVideo(ctx, svc, query)
	})
	switch {
	case err == nil:
		telemetry.IncVideoSearch("ok")
		telemetry.SetSpanSuccess(span)
	case errors.Is(err, ErrNoResults):
		telemetry.IncVideoSearch("no_results")
		telemetry.RecordError(span, err)
	default:
		telemetry.IncVideoSearch("error")
		telemetry.RecordError(span, err)
	}
	return id, err
}

// SearchTopVideo runs a one-result video search with the provided YouTube service.
func SearchTopVideo(ctx context.Context, svc *yt.Service, query string) (string, error) {
	if svc == nil {
		return "", fmt.Errorf("nil youtube service")
	}
	res, err := svc.Search.List([]string{"id"}).Q(query).Type("video").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return "", &SearchError{Query: query, Err: err}
	}
	for _, item := range res.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			return item.Id.VideoId, nil
		}
	}
	return "", &SearchError{Query: query, Err: ErrNoResults}
}

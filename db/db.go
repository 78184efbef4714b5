// Package db provides the optional store behind the bot: OAuth credentials for
// Twitch and YouTube plus a log of replies the bot has sent. Conversational
// state is never stored here.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure-go sqlite driver registered as 'sqlite'

	"github.com/onnwee/solarbot/bot"
	"github.com/onnwee/solarbot/crypto"
)

// Dialect selects SQL and migration flavour.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store wraps a database handle with its dialect. When Keys is set, OAuth
// token columns are sealed at rest; nil keeps them in plaintext.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
	Keys    *crypto.Keyring
}

// ErrTokenEncrypted is returned when a sealed token row is read without a keyring.
var ErrTokenEncrypted = errors.New("oauth token is encrypted but no ENCRYPTION_KEY is configured")

// Connect opens a store for dsn. postgres:// and postgresql:// use pgx; file:,
// sqlite: and :memory: use the embedded sqlite driver.
func Connect(dsn string) (*Store, error) {
	dialect, driverDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	driver := "pgx"
	if dialect == SQLite {
		driver = "sqlite"
	}
	dbx, err := sql.Open(driver, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// every new connection to :memory: is a fresh database
		dbx.SetMaxOpenConns(1)
	}
	return &Store{DB: dbx, Dialect: dialect}, nil
}

func parseDSN(dsn string) (Dialect, string, error) {
	switch {
	case dsn == "":
		return "", "", errors.New("empty database dsn")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	case dsn == ":memory:", strings.HasPrefix(dsn, "file:"):
		return SQLite, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return SQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return SQLite, strings.TrimPrefix(dsn, "sqlite:"), nil
	}
	return "", "", fmt.Errorf("unsupported database dsn %q: want postgres://, file:, sqlite: or :memory:", dsn)
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

// rebind rewrites $N placeholders to ? for sqlite. Placeholders must appear in order.
func (s *Store) rebind(q string) string {
	if s.Dialect != SQLite {
		return q
	}
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '$' {
			j := i + 1
			for j < len(q) && q[j] >= '0' && q[j] <= '9' {
				j++
			}
			if j > i+1 {
				if _, err := strconv.Atoi(q[i+1 : j]); err == nil {
					b.WriteByte('?')
					i = j - 1
					continue
				}
			}
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// tokenColumns are the oauth_tokens columns that carry secrets. The youtube
// provider keeps its raw token JSON in scope, so scope is sealed too.
var tokenColumns = [3]string{"access_token", "refresh_token", "scope"}

func binding(provider, column string) string { return provider + "/" + column }

// UpsertOAuthToken stores or updates an OAuth token for a provider (twitch, youtube).
func (s *Store) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	vals := [3]string{access, refresh, scope}
	version, keyID := 0, sql.NullString{}
	if s.Keys != nil {
		for i, col := range tokenColumns {
			sealed, err := s.Keys.Seal(vals[i], binding(provider, col))
			if err != nil {
				return fmt.Errorf("encrypt %s: %w", col, err)
			}
			vals[i] = sealed
		}
		version, keyID = crypto.Version, sql.NullString{String: s.Keys.CurrentID(), Valid: true}
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,CURRENT_TIMESTAMP)
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=CURRENT_TIMESTAMP`
	var exp any
	if !expiry.IsZero() {
		exp = expiry.UTC()
	}
	_, err := s.DB.ExecContext(ctx, s.rebind(q), provider, vals[0], vals[1], exp, vals[2], version, keyID)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
// Plaintext rows written before a key was configured are still readable.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var acc, ref, sc, keyID sql.NullString
	var exp sql.NullTime
	var version int
	row := s.DB.QueryRowContext(ctx, s.rebind(`SELECT access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id FROM oauth_tokens WHERE provider = $1`), provider)
	err = row.Scan(&acc, &ref, &exp, &sc, &version, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	if exp.Valid {
		expiry = exp.Time
	}
	vals := [3]string{acc.String, ref.String, sc.String}
	switch version {
	case 0:
	case crypto.Version:
		if s.Keys == nil {
			return "", "", time.Time{}, "", fmt.Errorf("%s: %w", provider, ErrTokenEncrypted)
		}
		for i, col := range tokenColumns {
			plain, err := s.Keys.Open(keyID.String, vals[i], binding(provider, col))
			if err != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt %s %s: %w", provider, col, err)
			}
			vals[i] = plain
		}
	default:
		return "", "", time.Time{}, "", fmt.Errorf("%s: unsupported encryption_version %d", provider, version)
	}
	return vals[0], vals[1], expiry, vals[2], nil
}

// ResealOAuthTokens rewrites every token row that is plaintext or sealed with
// an older key under the keyring's current key. It returns the rows rewritten.
func (s *Store) ResealOAuthTokens(ctx context.Context) (int, error) {
	if s.Keys == nil {
		return 0, nil
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT provider FROM oauth_tokens WHERE encryption_version <> $1 OR encryption_key_id IS NULL OR encryption_key_id <> $2`),
		crypto.Version, s.Keys.CurrentID())
	if err != nil {
		return 0, err
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return 0, err
		}
		providers = append(providers, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for i, p := range providers {
		access, refresh, expiry, scope, err := s.GetOAuthToken(ctx, p)
		if err != nil {
			return i, err
		}
		if err := s.UpsertOAuthToken(ctx, p, access, refresh, expiry, scope); err != nil {
			return i, fmt.Errorf("reseal %s: %w", p, err)
		}
	}
	return len(providers), nil
}

// RecordReply appends a sent reply to the reply log. It satisfies bot.ReplyRecorder.
func (s *Store) RecordReply(ctx context.Context, r bot.Reply) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, s.rebind(`INSERT INTO bot_replies(channel, author, rule, body, created_at) VALUES($1,$2,$3,$4,$5)`),
		r.Channel, r.Author, r.Rule, r.Body, at.UTC())
	return err
}

// RecentReplies returns up to limit replies, newest first.
func (s *Store) RecentReplies(ctx context.Context, limit int) ([]bot.Reply, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT channel, author, rule, body, created_at FROM bot_replies ORDER BY created_at DESC, id DESC LIMIT $1`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]bot.Reply, 0, limit)
	for rows.Next() {
		var r bot.Reply
		var author, body sql.NullString
		if err := rows.Scan(&r.Channel, &author, &r.Rule, &body, &r.At); err != nil {
			return nil, err
		}
		r.Author, r.Body = author.String, body.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// TokenStoreAdapter implements youtubeapi.TokenStore over the oauth_tokens table.
// The raw token JSON is kept in the scope column.
type TokenStoreAdapter struct{ Store *Store }

func (t *TokenStoreAdapter) UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error {
	return t.Store.UpsertOAuthToken(ctx, provider, accessToken, refreshToken, expiry, raw)
}

func (t *TokenStoreAdapter) GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error) {
	return t.Store.GetOAuthToken(ctx, provider)
}

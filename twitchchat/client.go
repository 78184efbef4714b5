// Package twitchchat connects a bot.Listener to Twitch chat over IRC. Channel
// messages are answered in the channel; whispers are answered through the
// Helix whisper API because IRC no longer delivers outbound whispers.
package twitchchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/solarbot/bot"
	"github.com/onnwee/solarbot/telemetry"
)

const whisperPrefix = "whisper:"

// Whisperer is the Helix surface the client uses.
type Whisperer interface {
	GetUserID(ctx context.Context, login string) (string, error)
	SendWhisper(ctx context.Context, userToken, fromID, toID, text string) error
}

// Options configures a Client.
type Options struct {
	Username string
	// Token is the bot's user access token, with or without the "oauth:" prefix.
	Token    string
	Channels []string
	// MediaBaseURL is prefixed to media names; media replies are skipped when empty.
	MediaBaseURL string
	Helix        Whisperer
	// QueueSize bounds messages waiting for the listener; zero means 64.
	QueueSize int
}

// Client is a bot.Transport backed by go-twitch-irc.
type Client struct {
	opts     Options
	irc      *twitch.Client
	listener bot.Listener
	roster   *Roster
	queue    chan bot.Message
	say      func(channel, text string)

	mu     sync.RWMutex
	token  string
	selfID string
	ctx    context.Context

	online    atomic.Bool
	connected chan struct{}
	once      sync.Once
}

// New builds a client for listener. Call Run to connect.
func New(opts Options, listener bot.Listener) (*Client, error) {
	if opts.Username == "" || opts.Token == "" {
		return nil, errors.New("twitch username and oauth token are required")
	}
	if len(opts.Channels) == 0 {
		return nil, errors.New("no twitch channels configured")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	c := &Client{
		opts:      opts,
		listener:  listener,
		roster:    NewRoster(),
		queue:     make(chan bot.Message, opts.QueueSize),
		token:     bareToken(opts.Token),
		ctx:       context.Background(),
		connected: make(chan struct{}),
	}
	c.irc = twitch.NewClient(strings.ToLower(opts.Username), "oauth:"+c.token)
	c.irc.Capabilities = []string{twitch.TagsCapability, twitch.CommandsCapability, twitch.MembershipCapability}
	c.irc.OnConnect(c.handleConnect)
	c.irc.OnPrivateMessage(c.handlePrivateMessage)
	c.irc.OnWhisperMessage(c.handleWhisperMessage)
	c.irc.OnUserJoinMessage(c.handleJoin)
	c.irc.OnUserPartMessage(c.handlePart)
	c.irc.OnNamesMessage(c.handleNames)
	c.say = c.irc.Say
	return c, nil
}

func bareToken(tok string) string {
	return strings.TrimPrefix(strings.TrimSpace(tok), "oauth:")
}

// SetToken swaps the user token, e.g. after a refresh. It takes effect for
// whispers immediately and for IRC on the next reconnect.
func (c *Client) SetToken(tok string) {
	tok = bareToken(tok)
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	c.irc.SetIRCToken("oauth:" + tok)
}

// Roster exposes channel membership.
func (c *Client) Roster() *Roster { return c.roster }

// Connected is closed once the first IRC connection is established.
func (c *Client) Connected() <-chan struct{} { return c.connected }

// Ready reports whether the IRC connection is currently up.
func (c *Client) Ready() bool { return c.online.Load() }

// Run joins the configured channels and blocks until ctx is done or the
// connection fails. Messages are handed to the listener one at a time on a
// separate goroutine so slow replies never stall the IRC reader.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		c.work(ctx)
	}()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := c.irc.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
				slog.Warn("twitch disconnect error", slog.Any("err", err), slog.String("component", "twitchchat"))
			}
		case <-stop:
		}
	}()

	c.irc.Join(c.opts.Channels...)
	err := c.irc.Connect()
	close(stop)
	c.online.Store(false)
	telemetry.SetChatConnected(false)
	<-workerDone
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("twitch chat: %w", err)
}

func (c *Client) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.queue:
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg bot.Message) {
	if err := c.listener.OnMessage(ctx, msg); err != nil {
		slog.Error("message handling failed",
			slog.Any("err", err),
			slog.String("channel", msg.Channel.ID),
			slog.String("author", msg.Author.Login),
			slog.String("component", "twitchchat"))
	}
}

func (c *Client) enqueue(msg bot.Message) {
	select {
	case c.queue <- msg:
	default:
		slog.Warn("message queue full; dropping message", slog.String("channel", msg.Channel.ID), slog.String("component", "twitchchat"))
	}
}

func (c *Client) context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *Client) handleConnect() {
	ctx := c.context()
	telemetry.SetChatConnected(true)
	login := strings.ToLower(c.opts.Username)
	self := bot.Identity{Name: c.opts.Username, Mention: "@" + c.opts.Username}
	if c.opts.Helix != nil {
		id, err := c.opts.Helix.GetUserID(ctx, login)
		if err != nil {
			slog.Warn("could not resolve bot user id; whispers disabled", slog.Any("err", err), slog.String("component", "twitchchat"))
		} else {
			self.ID = id
			c.mu.Lock()
			c.selfID = id
			c.mu.Unlock()
		}
	}
	if err := c.listener.OnReady(ctx, c, self); err != nil {
		slog.Error("listener rejected ready", slog.Any("err", err), slog.String("component", "twitchchat"))
		return
	}
	slog.Info("twitch chat connected",
		slog.String("bot", self.Name),
		slog.String("user_id", self.ID),
		slog.Any("channels", c.opts.Channels),
		slog.String("component", "twitchchat"))
	c.online.Store(true)
	c.once.Do(func() { close(c.connected) })
}

func (c *Client) handlePrivateMessage(m twitch.PrivateMessage) {
	author := userFrom(m.User)
	c.roster.Add(m.Channel, author)
	c.enqueue(privateToMessage(m))
}

func (c *Client) handleJoin(m twitch.UserJoinMessage) {
	c.roster.Add(m.Channel, bot.User{Login: m.User})
}

func (c *Client) handlePart(m twitch.UserPartMessage) { c.roster.Remove(m.Channel, m.User) }

func (c *Client) handleNames(m twitch.NamesMessage) {
	for _, login := range m.Users {
		c.roster.Add(m.Channel, bot.User{Login: login})
	}
}

func (c *Client) handleWhisperMessage(m twitch.WhisperMessage) {
	c.enqueue(whisperToMessage(m))
}

func userFrom(u twitch.User) bot.User {
	return bot.User{ID: u.ID, Login: u.Name, DisplayName: u.DisplayName}
}

func privateToMessage(m twitch.PrivateMessage) bot.Message {
	return bot.Message{
		ID:      m.ID,
		Author:  userFrom(m.User),
		Text:    m.Message,
		Channel: bot.Channel{ID: m.Channel},
	}
}

func whisperToMessage(m twitch.WhisperMessage) bot.Message {
	return bot.Message{
		ID:      m.MessageID,
		Author:  userFrom(m.User),
		Text:    m.Message,
		Channel: bot.Channel{ID: whisperPrefix + m.User.ID, Private: true},
	}
}

// flatten joins lines with single spaces; IRC messages cannot carry newlines.
func flatten(text string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(text, "\r", "")), " ")
}

// SendText posts text to a channel or whispers it for private channels.
func (c *Client) SendText(ctx context.Context, ch bot.Channel, text string) error {
	if !ch.Private {
		c.say(ch.ID, flatten(text))
		return nil
	}
	to := strings.TrimPrefix(ch.ID, whisperPrefix)
	if to == "" || to == ch.ID {
		return fmt.Errorf("not a whisper channel: %q", ch.ID)
	}
	if c.opts.Helix == nil {
		return errors.New("whispers need the twitch helix client")
	}
	c.mu.RLock()
	token, from := c.token, c.selfID
	c.mu.RUnlock()
	return c.opts.Helix.SendWhisper(ctx, token, from, to, text)
}

// SendMedia posts a link to the media file; Twitch chat has no attachments.
func (c *Client) SendMedia(ctx context.Context, ch bot.Channel, m bot.Media) error {
	link, ok := mediaURL(c.opts.MediaBaseURL, m)
	if !ok {
		slog.Warn("MEDIA_BASE_URL not set; skipping media reply", slog.String("media", m.Name), slog.String("component", "twitchchat"))
		return nil
	}
	return c.SendText(ctx, ch, link)
}

func mediaURL(base string, m bot.Media) (string, bool) {
	if base == "" {
		return "", false
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(m.Name), true
}

// FindMember resolves name in the channel roster.
func (c *Client) FindMember(ctx context.Context, ch bot.Channel, name string) (bot.User, error) {
	if u, ok := c.roster.Find(ch.ID, name); ok {
		return u, nil
	}
	return bot.User{}, bot.ErrMemberNotFound
}

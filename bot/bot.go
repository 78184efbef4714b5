package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/solarbot/telemetry"
)

// Options configures a Bot. Zero values pick production defaults.
type Options struct {
	// GenericReplyChance gates the "me to same" streak reply and the flavor
	// replies. YeahReplyChance gates the "yeah" streak reply. Both are in [0,1].
	GenericReplyChance float64
	YeahReplyChance    float64

	Searcher VideoSearcher
	Recorder ReplyRecorder

	Now  func() time.Time
	Rand Random
}

type commandFunc func(ctx context.Context, msg Message, m Match) error

// Bot owns the conversational state and implements Listener.
type Bot struct {
	genericChance float64
	yeahChance    float64
	searcher      VideoSearcher
	recorder      ReplyRecorder
	now           func() time.Time
	rand          Random
	commands      map[Kind]commandFunc

	mu        sync.Mutex
	transport Transport
	self      Identity
	matcher   *Matcher
	state     State
}

// New returns a Bot that is not yet ready; the transport calls OnReady once
// connected.
func New(opts Options) *Bot {
	b := &Bot{
		genericChance: opts.GenericReplyChance,
		yeahChance:    opts.YeahReplyChance,
		searcher:      opts.Searcher,
		recorder:      opts.Recorder,
		now:           opts.Now,
		rand:          opts.Rand,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.rand == nil {
		b.rand = globalRand{}
	}
	b.commands = map[Kind]commandFunc{
		Hug:             b.hug,
		DayGreeting:     b.dayGreeting,
		SlowClap:        b.slowClap,
		VideoSearch:     b.videoSearch,
		Opinion:         b.opinion,
		LoveDeclaration: b.loveDeclaration,
	}
	return b
}

// OnReady binds the transport and the bot identity, compiling the matcher and
// resetting conversational state.
func (b *Bot) OnReady(ctx context.Context, t Transport, self Identity) error {
	m, err := NewMatcher(self)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transport = t
	b.self = self
	b.matcher = m
	b.state = State{}
	slog.InfoContext(ctx, "bot ready", slog.String("name", self.Name), slog.String("id", self.ID), slog.String("component", "bot"))
	return nil
}

// OnMessage handles one inbound message to completion. Calls are serialized.
// The message author becomes the previous author whatever the outcome.
func (b *Bot) OnMessage(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.matcher == nil {
		return ErrNotReady
	}
	if b.isSelf(msg.Author) {
		return nil
	}

	corr := msg.ID
	if corr == "" {
		corr = uuid.NewString()
	}
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, "bot", "bot.OnMessage",
		attribute.String("channel", msg.Channel.ID),
		attribute.Bool("private", msg.Channel.Private),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		if telemetry.MessageDuration != nil {
			telemetry.MessageDuration.Observe(time.Since(start).Seconds())
		}
	}()
	telemetry.IncMessage()

	// runs on error paths too: a failed search still counts as the author speaking
	defer b.state.SetPreviousAuthor(msg.Author.key())

	var err error
	if m := b.matcher.Match(msg.Text); m.Kind != NoMatch {
		telemetry.IncCommand(m.Kind.String())
		if err = b.commands[m.Kind](ctx, msg, m); err != nil {
			err = fmt.Errorf("%s command: %w", m.Kind, err)
		}
	} else {
		err = b.respond(ctx, msg)
	}
	if err != nil {
		telemetry.IncMessageError()
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// Snapshot returns a copy of the current conversational state.
func (b *Bot) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bot) isSelf(u User) bool {
	if b.self.ID != "" && u.ID == b.self.ID {
		return true
	}
	return u.Login != "" && strings.EqualFold(u.Login, b.self.Name)
}

// mentionsSelf reports whether lower (already lowercased) contains the bot's
// name or mention token.
func (b *Bot) mentionsSelf(lower string) bool {
	for _, s := range []string{b.self.Name, b.self.Mention} {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func (b *Bot) say(ctx context.Context, msg Message, rule, text string) error {
	if err := b.transport.SendText(ctx, msg.Channel, text); err != nil {
		return fmt.Errorf("send %s reply: %w", rule, err)
	}
	b.sent(ctx, msg, rule, text)
	return nil
}

func (b *Bot) show(ctx context.Context, msg Message, rule string, m Media) error {
	if err := b.transport.SendMedia(ctx, msg.Channel, m); err != nil {
		return fmt.Errorf("send %s media: %w", rule, err)
	}
	b.sent(ctx, msg, rule, m.Name)
	return nil
}

func (b *Bot) sent(ctx context.Context, msg Message, rule, body string) {
	telemetry.IncReply(rule)
	log := telemetry.LoggerWithCorr(ctx)
	log.Debug("reply sent", slog.String("rule", rule), slog.String("channel", msg.Channel.ID), slog.String("author", msg.Author.Login))
	if b.recorder == nil {
		return
	}
	r := Reply{Channel: msg.Channel.ID, Author: msg.Author.Login, Rule: rule, Body: body, At: b.now().UTC()}
	if err := b.recorder.RecordReply(ctx, r); err != nil {
		log.Warn("failed to record reply", slog.Any("err", err), slog.String("rule", rule))
	}
}

func pick(r Random, choices []string) string {
	return choices[r.IntN(len(choices))]
}

// globalRand draws from the math/rand/v2 top-level source.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/solarbot/telemetry"
)

const (
	slowClapLink   = "http://gph.is/XH7nxi"
	decoyVideoID   = "dQw4w9WgXcQ"
	flusteredReply = "B-BAKA! Like I'd have any f-feelings for you... *blush*"
)

var opinionResponses = []string{
	"You kiddin' me?",
	"Hell naw.",
	"Nah.",
	"Meh.",
	"Heh, yeah.",
	"Dude, that isn't even a question.",
}

// ErrNoSearcher is returned by the video search command when no
// VideoSearcher is configured.
var ErrNoSearcher = errors.New("video search not configured")

// TopResultMessage formats the reply for a video search hit.
func TopResultMessage(videoID string) string {
	return "Top result:\nhttps://www.youtube.com/watch?v=" + videoID
}

func (b *Bot) hug(ctx context.Context, msg Message, m Match) error {
	if msg.Channel.Private {
		return b.say(ctx, msg, "hug", "Can't hug in DMs.")
	}
	member, err := b.transport.FindMember(ctx, msg.Channel, m.Target)
	if errors.Is(err, ErrMemberNotFound) {
		return b.say(ctx, msg, "hug", fmt.Sprintf("Can't find %s, would you like me to hug someone else %s? (check spelling)", m.Target, msg.Author.Mention()))
	}
	if err != nil {
		return fmt.Errorf("find member %q: %w", m.Target, err)
	}
	return b.say(ctx, msg, "hug", fmt.Sprintf("%s gives %s a hug! :hugging: OwO", msg.Author.Mention(), member.Mention()))
}

func (b *Bot) dayGreeting(ctx context.Context, msg Message, m Match) error {
	return b.say(ctx, msg, "day_greeting", fmt.Sprintf("Good %s, %s! ^_^", m.Period, msg.Author.Mention()))
}

func (b *Bot) slowClap(ctx context.Context, msg Message, _ Match) error {
	return b.say(ctx, msg, "slow_clap", slowClapLink)
}

// videoSearch answers with the top result for the query. On April 1st the
// search is skipped and the decoy link is sent instead.
func (b *Bot) videoSearch(ctx context.Context, msg Message, m Match) error {
	if now := b.now(); now.Month() == time.April && now.Day() == 1 {
		telemetry.IncVideoSearch("decoy")
		return b.say(ctx, msg, "video_search", TopResultMessage(decoyVideoID))
	}
	if b.searcher == nil {
		return ErrNoSearcher
	}
	id, err := b.searcher.SearchTopVideo(ctx, m.Query)
	if err != nil {
		return fmt.Errorf("search %q: %w", m.Query, err)
	}
	return b.say(ctx, msg, "video_search", TopResultMessage(id))
}

// opinion answers "do you like X". A self-referencing subject only gets a
// reply when the message says "love"; otherwise nothing is sent.
func (b *Bot) opinion(ctx context.Context, msg Message, m Match) error {
	fields := strings.Fields(strings.ToLower(m.Subject))
	if len(fields) > 0 && (fields[0] == "me" || fields[0] == "me?") {
		if strings.Contains(msg.Text, "love") {
			return b.say(ctx, msg, "opinion", flusteredReply)
		}
		return nil
	}
	return b.say(ctx, msg, "opinion", pick(b.rand, opinionResponses))
}

func (b *Bot) loveDeclaration(ctx context.Context, msg Message, _ Match) error {
	return b.show(ctx, msg, "love_declaration", MediaTearfulSmile)
}

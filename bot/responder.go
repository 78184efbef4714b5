package bot

import (
	"context"
	"regexp"
	"strings"
)

const repeatPhrase = "me to same"

var (
	namedropResponses = []string{"Huh?", "Yo.", "Sup.", "Salut."}
	owoResponses      = []string{"What's this?", "*Notices your message*"}

	whatIsPattern = regexp.MustCompile(`(?i)^it's( a)? (.+)`)
	muhPattern    = regexp.MustCompile(`(?i)^mu+h+`)
	tooOPPattern  = regexp.MustCompile(`(?i)^(\w+) is too \w+`)
)

// flavorRule produces a reply for text, or ok=false to let the next rule try.
type flavorRule struct {
	name  string
	reply func(r Random, text, lower string) (string, bool)
}

// flavorRules are tried in order; the first rule that answers wins.
var flavorRules = []flavorRule{
	{"what_is", func(_ Random, text, _ string) (string, bool) {
		if sub := whatIsPattern.FindStringSubmatch(text); sub != nil {
			return "What's " + sub[2] + "?", true
		}
		return "", false
	}},
	{"muh", func(r Random, text, _ string) (string, bool) {
		if !muhPattern.MatchString(text) {
			return "", false
		}
		return "M" + strings.Repeat("U", 1+r.IntN(10)) + "H", true
	}},
	{"too_op", func(_ Random, text, _ string) (string, bool) {
		if sub := tooOPPattern.FindStringSubmatch(text); sub != nil {
			return sub[1] + " too op, pls nerf", true
		}
		return "", false
	}},
	{"through", func(_ Random, text, lower string) (string, bool) {
		// Triggered case-insensitively, replaced case-sensitively.
		if !strings.Contains(lower, "through") {
			return "", false
		}
		return strings.Replace(text, "through", "TROUGH", 1), true
	}},
	{"oopsie", func(_ Random, _, lower string) (string, bool) {
		return "woopsie!", lower == "oopsie"
	}},
	{"owo", func(r Random, text, _ string) (string, bool) {
		if strings.Contains(text, "OWO") || strings.Contains(text, "UWU") {
			return pick(r, owoResponses), true
		}
		return "", false
	}},
	{"love", func(_ Random, _, lower string) (string, bool) {
		return "OWO", strings.Contains(lower, "love")
	}},
	{"oops", func(_ Random, _, lower string) (string, bool) {
		return "OOPSIE WOOPSIE!", strings.Contains(lower, "oops")
	}},
	{"capsicum", func(_ Random, _, lower string) (string, bool) {
		return "CAPSICUM? Don't forget to add the AIL and then MIXWELL", strings.Contains(lower, "capsicum")
	}},
}

// respond runs the non-command path for msg. A single chance value is drawn
// per message and compared against both thresholds.
func (b *Bot) respond(ctx context.Context, msg Message) error {
	chance := b.rand.Float64()
	text := msg.Text
	lower := strings.ToLower(text)

	if b.mentionsSelf(lower) {
		return b.say(ctx, msg, "namedrop", pick(b.rand, namedropResponses))
	}

	author := msg.Author.key()
	if b.state.ObserveRepeatPhrase(strings.HasPrefix(lower, repeatPhrase), author) >= 2 && chance <= b.genericChance {
		b.state.RepeatPhrase = 0
		if err := b.say(ctx, msg, "repeat_phrase", repeatPhrase); err != nil {
			return err
		}
	}
	if b.state.ObserveAgreement(lower == "yeah", author) > 2 && chance <= b.yeahChance {
		b.state.Agreement = 0
		if err := b.say(ctx, msg, "agreement", repeatPhrase); err != nil {
			return err
		}
	}

	if strings.Contains(lower, "thank you") {
		return b.show(ctx, msg, "gratitude", MediaHappy)
	}
	if chance > b.genericChance {
		return nil
	}
	for _, fr := range flavorRules {
		if reply, ok := fr.reply(b.rand, text, lower); ok {
			return b.say(ctx, msg, fr.name, reply)
		}
	}
	return nil
}

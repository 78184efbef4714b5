package bot

import (
	"errors"
	"regexp"
)

// Kind tags the command recognized by the Matcher.
type Kind int

const (
	NoMatch Kind = iota
	Hug
	DayGreeting
	SlowClap
	VideoSearch
	Opinion
	LoveDeclaration
)

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	switch k {
	case Hug:
		return "hug"
	case DayGreeting:
		return "day_greeting"
	case SlowClap:
		return "slow_clap"
	case VideoSearch:
		return "video_search"
	case Opinion:
		return "opinion"
	case LoveDeclaration:
		return "love_declaration"
	default:
		return "none"
	}
}

// Match is the result of classifying one message. Only the fields belonging
// to Kind are set; captures are kept verbatim.
type Match struct {
	Kind    Kind
	Target  string // Hug
	Period  string // DayGreeting
	Query   string // VideoSearch
	Verb    string // Opinion
	Subject string // Opinion
}

type rule struct {
	kind  Kind
	re    *regexp.Regexp
	build func(sub []string) Match
}

// Matcher classifies text into commands using a fixed, ordered rule table.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles the rule table for the given bot identity. Every rule
// accepts either the bot's name or its mention token.
func NewMatcher(self Identity) (*Matcher, error) {
	if self.Name == "" {
		return nil, errors.New("matcher: bot name empty")
	}
	who := "(?:" + regexp.QuoteMeta(self.Name)
	if self.Mention != "" {
		who += "|" + regexp.QuoteMeta(self.Mention)
	}
	who += ")"

	compile := func(expr string) *regexp.Regexp { return regexp.MustCompile("(?i)^" + expr) }
	return &Matcher{rules: []rule{
		{Hug, compile(who + `,? give (.+) a hug`), func(s []string) Match {
			return Match{Kind: Hug, Target: s[1]}
		}},
		{DayGreeting, compile(`good (day|morning|afternoon|evening|night),? ` + who), func(s []string) Match {
			return Match{Kind: DayGreeting, Period: s[1]}
		}},
		{SlowClap, compile(who + `,? slow clap`), func([]string) Match {
			return Match{Kind: SlowClap}
		}},
		{VideoSearch, compile(who + `,? look for (.+?) on (?:youtube|yt)`), func(s []string) Match {
			return Match{Kind: VideoSearch, Query: s[1]}
		}},
		{Opinion, compile(who + `,? do you (like|love|dislike|hate) (.+)\??`), func(s []string) Match {
			return Match{Kind: Opinion, Verb: s[1], Subject: s[2]}
		}},
		{LoveDeclaration, compile(who + `,? I love you`), func([]string) Match {
			return Match{Kind: LoveDeclaration}
		}},
	}}, nil
}

// Match returns the first rule that matches text, or a NoMatch result.
func (m *Matcher) Match(text string) Match {
	for _, r := range m.rules {
		if sub := r.re.FindStringSubmatch(text); sub != nil {
			return r.build(sub)
		}
	}
	return Match{}
}

package bot

// State is the conversational state carried between messages.
//
// RepeatPhrase and Agreement count consecutive messages carrying their
// trigger phrase from an author different from the previous one. Both reset
// to zero as soon as a message without the phrase arrives.
type State struct {
	RepeatPhrase   int    `json:"repeat_phrase"`
	Agreement      int    `json:"agreement"`
	PreviousAuthor string `json:"previous_author,omitempty"`
}

func (s *State) isPrevious(author string) bool {
	return s.PreviousAuthor != "" && s.PreviousAuthor == author
}

// ObserveRepeatPhrase applies one message to the "me to same" streak and
// returns the new count.
func (s *State) ObserveRepeatPhrase(present bool, author string) int {
	s.RepeatPhrase = observe(s.RepeatPhrase, present, s.isPrevious(author))
	return s.RepeatPhrase
}

// ObserveAgreement applies one message to the "yeah" streak and returns the
// new count.
func (s *State) ObserveAgreement(present bool, author string) int {
	s.Agreement = observe(s.Agreement, present, s.isPrevious(author))
	return s.Agreement
}

// SetPreviousAuthor records the author of the message just handled.
func (s *State) SetPreviousAuthor(author string) { s.PreviousAuthor = author }

func observe(n int, present, sameAuthor bool) int {
	switch {
	case !present:
		return 0
	case sameAuthor:
		return n
	default:
		return n + 1
	}
}

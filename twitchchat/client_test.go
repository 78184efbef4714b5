package twitchchat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/solarbot/bot"
)

type recordingListener struct {
	mu       sync.Mutex
	self     bot.Identity
	ready    int
	messages []bot.Message
	err      error
}

func (l *recordingListener) OnReady(ctx context.Context, t bot.Transport, self bot.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready++
	l.self = self
	return nil
}

func (l *recordingListener) OnMessage(ctx context.Context, msg bot.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	return l.err
}

type fakeHelix struct {
	id       string
	idErr    error
	whispers []whisper
	err      error
}

type whisper struct{ token, from, to, text string }

func (f *fakeHelix) GetUserID(ctx context.Context, login string) (string, error) {
	return f.id, f.idErr
}

func (f *fakeHelix) SendWhisper(ctx context.Context, token, from, to, text string) error {
	f.whispers = append(f.whispers, whisper{token, from, to, text})
	return f.err
}

type said struct{ channel, text string }

func newTestClient(t *testing.T, opts Options) (*Client, *recordingListener, *[]said) {
	t.Helper()
	if opts.Username == "" {
		opts.Username = "SolarBot"
	}
	if opts.Token == "" {
		opts.Token = "oauth:abc123"
	}
	if len(opts.Channels) == 0 {
		opts.Channels = []string{"solar"}
	}
	l := &recordingListener{}
	c, err := New(opts, l)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var out []said
	c.say = func(channel, text string) { out = append(out, said{channel, text}) }
	return c, l, &out
}

func TestNewValidation(t *testing.T) {
	l := &recordingListener{}
	if _, err := New(Options{Token: "x", Channels: []string{"a"}}, l); err == nil {
		t.Error("expected error without username")
	}
	if _, err := New(Options{Username: "bot", Channels: []string{"a"}}, l); err == nil {
		t.Error("expected error without token")
	}
	if _, err := New(Options{Username: "bot", Token: "x"}, l); err == nil {
		t.Error("expected error without channels")
	}
}

func TestBareToken(t *testing.T) {
	for in, want := range map[string]string{"oauth:abc": "abc", "abc": "abc", " oauth:abc ": "abc"} {
		if got := bareToken(in); got != want {
			t.Errorf("bareToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrivateToMessage(t *testing.T) {
	m := twitch.PrivateMessage{
		User:    twitch.User{ID: "7", Name: "alice", DisplayName: "Alice"},
		Channel: "solar",
		ID:      "msg-1",
		Message: "good morning SolarBot",
	}
	got := privateToMessage(m)
	want := bot.Message{
		ID:      "msg-1",
		Author:  bot.User{ID: "7", Login: "alice", DisplayName: "Alice"},
		Text:    "good morning SolarBot",
		Channel: bot.Channel{ID: "solar"},
	}
	if got != want {
		t.Errorf("privateToMessage = %+v, want %+v", got, want)
	}
}

func TestWhisperToMessage(t *testing.T) {
	m := twitch.WhisperMessage{
		User:      twitch.User{ID: "7", Name: "alice", DisplayName: "Alice"},
		Message:   "SolarBot, give bob a hug",
		MessageID: "w-1",
	}
	got := whisperToMessage(m)
	if got.Channel != (bot.Channel{ID: "whisper:7", Private: true}) {
		t.Errorf("channel = %+v", got.Channel)
	}
	if got.Text != m.Message || got.ID != "w-1" || got.Author.Login != "alice" {
		t.Errorf("message = %+v", got)
	}
}

func TestFlatten(t *testing.T) {
	tests := map[string]string{
		"Top result:\nhttps://www.youtube.com/watch?v=abc": "Top result: https://www.youtube.com/watch?v=abc",
		"a\r\nb":     "a b",
		"plain text": "plain text",
		"a  \n\n  b": "a b",
	}
	for in, want := range tests {
		if got := flatten(in); got != want {
			t.Errorf("flatten(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMediaURL(t *testing.T) {
	tests := []struct {
		base string
		want string
		ok   bool
	}{
		{"https://cdn.example.com/media", "https://cdn.example.com/media/horo_happy.gif", true},
		{"https://cdn.example.com/media/", "https://cdn.example.com/media/horo_happy.gif", true},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := mediaURL(tt.base, bot.MediaHappy)
		if got != tt.want || ok != tt.ok {
			t.Errorf("mediaURL(%q) = %q, %v; want %q, %v", tt.base, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSendTextChannel(t *testing.T) {
	c, _, out := newTestClient(t, Options{})
	if err := c.SendText(context.Background(), bot.Channel{ID: "solar"}, "Top result:\nhttps://youtu.be/x"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if len(*out) != 1 || (*out)[0] != (said{"solar", "Top result: https://youtu.be/x"}) {
		t.Errorf("said = %+v", *out)
	}
}

func TestSendTextWhisper(t *testing.T) {
	h := &fakeHelix{id: "999"}
	c, _, out := newTestClient(t, Options{Helix: h})
	c.handleConnect()

	if err := c.SendText(context.Background(), bot.Channel{ID: "whisper:7", Private: true}, "Can't hug in DMs."); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if len(*out) != 0 {
		t.Errorf("whisper leaked into channel: %+v", *out)
	}
	want := whisper{token: "abc123", from: "999", to: "7", text: "Can't hug in DMs."}
	if len(h.whispers) != 1 || h.whispers[0] != want {
		t.Errorf("whispers = %+v, want %+v", h.whispers, want)
	}

	c.SetToken("oauth:rotated")
	_ = c.SendText(context.Background(), bot.Channel{ID: "whisper:7", Private: true}, "again")
	if h.whispers[1].token != "rotated" {
		t.Errorf("token after SetToken = %q", h.whispers[1].token)
	}
}

func TestSendTextWhisperErrors(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})
	if err := c.SendText(context.Background(), bot.Channel{ID: "whisper:7", Private: true}, "x"); err == nil {
		t.Error("expected error without helix client")
	}
	if err := c.SendText(context.Background(), bot.Channel{ID: "solar", Private: true}, "x"); err == nil {
		t.Error("expected error for malformed whisper channel")
	}

	h := &fakeHelix{id: "1", err: errors.New("missing scope")}
	c2, _, _ := newTestClient(t, Options{Helix: h})
	if err := c2.SendText(context.Background(), bot.Channel{ID: "whisper:7", Private: true}, "x"); err == nil {
		t.Error("expected helix error to propagate")
	}
}

func TestSendMedia(t *testing.T) {
	c, _, out := newTestClient(t, Options{MediaBaseURL: "https://cdn.example.com"})
	if err := c.SendMedia(context.Background(), bot.Channel{ID: "solar"}, bot.MediaTearfulSmile); err != nil {
		t.Fatalf("SendMedia() error = %v", err)
	}
	if len(*out) != 1 || (*out)[0].text != "https://cdn.example.com/tearful_smile.gif" {
		t.Errorf("said = %+v", *out)
	}

	bare, _, bareOut := newTestClient(t, Options{})
	if err := bare.SendMedia(context.Background(), bot.Channel{ID: "solar"}, bot.MediaHappy); err != nil {
		t.Fatalf("SendMedia() without base error = %v", err)
	}
	if len(*bareOut) != 0 {
		t.Errorf("media without base url should be skipped, said %+v", *bareOut)
	}
}

func TestFindMemberFromChatActivity(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})
	c.handlePrivateMessage(twitch.PrivateMessage{
		User:    twitch.User{ID: "8", Name: "bob", DisplayName: "Bobby"},
		Channel: "solar",
		Message: "hi",
	})

	u, err := c.FindMember(context.Background(), bot.Channel{ID: "solar"}, "@bobby")
	if err != nil {
		t.Fatalf("FindMember() error = %v", err)
	}
	if u.ID != "8" || u.Login != "bob" {
		t.Errorf("member = %+v", u)
	}
	if _, err := c.FindMember(context.Background(), bot.Channel{ID: "solar"}, "nobody"); !errors.Is(err, bot.ErrMemberNotFound) {
		t.Errorf("error = %v, want ErrMemberNotFound", err)
	}
}

func TestRosterFollowsMembership(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})
	r := c.Roster()

	c.handleNames(twitch.NamesMessage{Channel: "solar", Users: []string{"alice", "bob"}})
	c.handleJoin(twitch.UserJoinMessage{Channel: "solar", User: "carol"})
	if got := r.Len("solar"); got != 3 {
		t.Fatalf("Len() after NAMES/JOIN = %d, want 3", got)
	}

	c.handlePrivateMessage(twitch.PrivateMessage{
		User:    twitch.User{ID: "42", Name: "alice", DisplayName: "Alice_TV"},
		Channel: "solar",
		Message: "hi",
	})
	u, ok := r.Find("solar", "@alice_tv")
	if !ok || u.ID != "42" || u.Login != "alice" {
		t.Errorf("Find(@alice_tv) = %+v, %v", u, ok)
	}
	if got := r.Len("solar"); got != 3 {
		t.Errorf("speaking must not duplicate a member, Len() = %d", got)
	}

	c.handlePart(twitch.UserPartMessage{Channel: "solar", User: "bob"})
	if _, ok := r.Find("solar", "bob"); ok {
		t.Error("bob should be gone after PART")
	}
	if _, ok := r.Find("other", "alice"); ok {
		t.Error("membership leaked across channels")
	}
}

func TestHandleConnect(t *testing.T) {
	c, l, _ := newTestClient(t, Options{Helix: &fakeHelix{id: "999"}})
	c.handleConnect()
	if l.ready != 1 {
		t.Fatalf("OnReady calls = %d", l.ready)
	}
	want := bot.Identity{ID: "999", Name: "SolarBot", Mention: "@SolarBot"}
	if l.self != want {
		t.Errorf("identity = %+v, want %+v", l.self, want)
	}
	select {
	case <-c.Connected():
	default:
		t.Error("Connected() not closed after connect")
	}
	if !c.Ready() {
		t.Error("Ready() = false after connect")
	}
	// reconnects must not panic on the closed channel
	c.handleConnect()
}

func TestHandleConnectWithoutUserID(t *testing.T) {
	c, l, _ := newTestClient(t, Options{Helix: &fakeHelix{idErr: errors.New("boom")}})
	c.handleConnect()
	if l.ready != 1 || l.self.ID != "" {
		t.Errorf("ready = %d self = %+v", l.ready, l.self)
	}
}

func TestWorkerDispatchesInOrder(t *testing.T) {
	c, l, _ := newTestClient(t, Options{})
	l.err = errors.New("search failed")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.work(ctx)
		close(done)
	}()

	for _, text := range []string{"one", "two", "three"} {
		c.handlePrivateMessage(twitch.PrivateMessage{User: twitch.User{Name: "alice"}, Channel: "solar", Message: text})
	}
	c.handleWhisperMessage(twitch.WhisperMessage{User: twitch.User{ID: "7", Name: "alice"}, Message: "four"})

	deadline := time.After(2 * time.Second)
	for {
		l.mu.Lock()
		n := len(l.messages)
		l.mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dispatched %d messages, want 4", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	for i, want := range []string{"one", "two", "three", "four"} {
		if l.messages[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, l.messages[i].Text, want)
		}
	}
	if !l.messages[3].Channel.Private {
		t.Error("whisper should arrive on a private channel")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c, _, _ := newTestClient(t, Options{QueueSize: 1})
	c.enqueue(bot.Message{Text: "a"})
	c.enqueue(bot.Message{Text: "b"})
	if len(c.queue) != 1 {
		t.Fatalf("queue len = %d, want 1", len(c.queue))
	}
	if msg := <-c.queue; msg.Text != "a" {
		t.Errorf("kept %q, want a", msg.Text)
	}
}

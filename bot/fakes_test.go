package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type sent struct {
	channel Channel
	text    string
	media   string
}

type fakeTransport struct {
	mu      sync.Mutex
	out     []sent
	members map[string]User // lowercase name -> user
	sendErr error
}

func newFakeTransport(members ...User) *fakeTransport {
	ft := &fakeTransport{members: map[string]User{}}
	for _, m := range members {
		ft.members[strings.ToLower(m.Login)] = m
		ft.members[strings.ToLower(m.DisplayName)] = m
	}
	return ft
}

func (f *fakeTransport) SendText(_ context.Context, ch Channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.out = append(f.out, sent{channel: ch, text: text})
	return nil
}

func (f *fakeTransport) SendMedia(_ context.Context, ch Channel, m Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.out = append(f.out, sent{channel: ch, media: m.Name})
	return nil
}

func (f *fakeTransport) FindMember(_ context.Context, _ Channel, name string) (User, error) {
	if u, ok := f.members[strings.ToLower(strings.TrimPrefix(name, "@"))]; ok {
		return u, nil
	}
	return User{}, ErrMemberNotFound
}

func (f *fakeTransport) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

// fakeRand returns floats in order (repeating the last) and a fixed IntN.
type fakeRand struct {
	floats []float64
	i      int
	intn   int
}

func (r *fakeRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0
	}
	f := r.floats[min(r.i, len(r.floats)-1)]
	r.i++
	return f
}

func (r *fakeRand) IntN(n int) int {
	if r.intn >= n {
		return n - 1
	}
	return r.intn
}

type fakeSearcher struct {
	queries []string
	id      string
	err     error
}

func (s *fakeSearcher) SearchTopVideo(_ context.Context, q string) (string, error) {
	s.queries = append(s.queries, q)
	return s.id, s.err
}

type fakeRecorder struct{ replies []Reply }

func (r *fakeRecorder) RecordReply(_ context.Context, rep Reply) error {
	r.replies = append(r.replies, rep)
	return nil
}

var (
	testSelf = Identity{ID: "999", Name: "SolarBot", Mention: "@SolarBot"}
	alice    = User{ID: "1", Login: "alice", DisplayName: "Alice"}
	bob      = User{ID: "2", Login: "bob", DisplayName: "Bob"}
	carol    = User{ID: "3", Login: "carol", DisplayName: "Carol"}
	room     = Channel{ID: "#room"}
	whisper  = Channel{ID: "whisper:1", Private: true}
	ordinary = time.Date(2024, time.March, 14, 12, 0, 0, 0, time.Local)
)

type harness struct {
	bot       *Bot
	transport *fakeTransport
	rand      *fakeRand
	searcher  *fakeSearcher
	recorder  *fakeRecorder
}

func newHarness(t *testing.T, opts Options, members ...User) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(members...),
		rand:      &fakeRand{},
		searcher:  &fakeSearcher{id: "abc123"},
		recorder:  &fakeRecorder{},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return ordinary }
	}
	if opts.Rand == nil {
		opts.Rand = h.rand
	}
	if opts.Searcher == nil {
		opts.Searcher = h.searcher
	}
	opts.Recorder = h.recorder
	h.bot = New(opts)
	if err := h.bot.OnReady(context.Background(), h.transport, testSelf); err != nil {
		t.Fatalf("OnReady() error = %v", err)
	}
	return h
}

func (h *harness) send(t *testing.T, from User, ch Channel, text string) error {
	t.Helper()
	return h.bot.OnMessage(context.Background(), Message{Author: from, Channel: ch, Text: text})
}

func (h *harness) mustSend(t *testing.T, from User, text string) {
	t.Helper()
	if err := h.send(t, from, room, text); err != nil {
		t.Fatalf("OnMessage(%q) error = %v", text, err)
	}
}

var errSend = errors.New("send failed")

package bot

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMemberNotFound is returned by Transport.FindMember when no member of the
// channel matches the requested name.
var ErrMemberNotFound = errors.New("member not found")

// ErrNotReady is returned by OnMessage before OnReady has been called.
var ErrNotReady = errors.New("bot not ready")

// User identifies a chat participant.
type User struct {
	ID          string
	Login       string
	DisplayName string
}

// Mention returns the in-chat reference for the user (e.g. "@Alice").
func (u User) Mention() string {
	if u.DisplayName != "" {
		return "@" + u.DisplayName
	}
	return "@" + u.Login
}

// key identifies the user for streak tracking.
func (u User) key() string {
	if u.ID != "" {
		return u.ID
	}
	return strings.ToLower(u.Login)
}

// Identity is the bot's own account as reported by the transport on connect.
type Identity struct {
	ID      string
	Name    string
	Mention string
}

// Channel is where a message was received and where replies go.
// Private is true for direct (author-only) contexts such as whispers.
type Channel struct {
	ID      string
	Private bool
}

// Message is an inbound chat message.
type Message struct {
	ID      string
	Author  User
	Text    string
	Channel Channel
}

// Media names a fixed file reply. Transports decide how to deliver it.
type Media struct {
	Name string
}

var (
	// MediaHappy is sent in response to gratitude.
	MediaHappy = Media{Name: "horo_happy.gif"}
	// MediaTearfulSmile is sent in response to a love declaration.
	MediaTearfulSmile = Media{Name: "tearful_smile.gif"}
)

// Transport is the outbound side of the chat connection.
type Transport interface {
	SendText(ctx context.Context, ch Channel, text string) error
	SendMedia(ctx context.Context, ch Channel, m Media) error
	// FindMember resolves a display name or login within the channel's
	// group. It returns ErrMemberNotFound on a miss.
	FindMember(ctx context.Context, ch Channel, name string) (User, error)
}

// Listener is implemented by Bot and registered with a transport.
type Listener interface {
	OnReady(ctx context.Context, t Transport, self Identity) error
	OnMessage(ctx context.Context, msg Message) error
}

// VideoSearcher returns the id of the top video for a query.
type VideoSearcher interface {
	SearchTopVideo(ctx context.Context, query string) (string, error)
}

// Reply is one outbound message, as recorded by a ReplyRecorder.
type Reply struct {
	Channel string    `json:"channel"`
	Author  string    `json:"author"`
	Rule    string    `json:"rule"`
	Body    string    `json:"body"`
	At      time.Time `json:"at"`
}

// ReplyRecorder stores sent replies. It is optional.
type ReplyRecorder interface {
	RecordReply(ctx context.Context, r Reply) error
}

// Random is the source for chance draws and random picks.
type Random interface {
	Float64() float64
	IntN(n int) int
}

package twitchchat

import (
	"strings"
	"sync"

	"github.com/onnwee/solarbot/bot"
)

// Roster tracks who is present in each joined channel. Twitch only reports
// logins for JOIN/PART/NAMES, so entries are upgraded with ids and display
// names once a user speaks.
type Roster struct {
	mu       sync.RWMutex
	channels map[string]map[string]bot.User
}

func NewRoster() *Roster {
	return &Roster{channels: make(map[string]map[string]bot.User)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// Add records u as present in channel, keeping any richer data already known.
func (r *Roster) Add(channel string, u bot.User) {
	key := normalize(u.Login)
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]bot.User)
		r.channels[channel] = members
	}
	prev := members[key]
	if u.ID == "" {
		u.ID = prev.ID
	}
	if u.DisplayName == "" {
		u.DisplayName = prev.DisplayName
	}
	members[key] = u
}

// Remove drops login from channel.
func (r *Roster) Remove(channel, login string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels[channel], normalize(login))
}

// Find resolves name against logins and display names, case-insensitively.
// A leading "@" is ignored.
func (r *Roster) Find(channel, name string) (bot.User, bool) {
	key := normalize(name)
	if key == "" {
		return bot.User{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[channel]
	if u, ok := members[key]; ok {
		return u, true
	}
	for _, u := range members {
		if strings.EqualFold(u.DisplayName, key) {
			return u, true
		}
	}
	return bot.User{}, false
}

// Len returns the number of members known in channel.
func (r *Roster) Len(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

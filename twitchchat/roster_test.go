package twitchchat

import (
	"sync"
	"testing"

	"github.com/onnwee/solarbot/bot"
)

func TestRosterFind(t *testing.T) {
	r := NewRoster()
	r.Add("solar", bot.User{ID: "1", Login: "alice", DisplayName: "Alice"})
	r.Add("solar", bot.User{Login: "ninja_dev", DisplayName: "NinjaDev"})

	tests := []struct {
		name    string
		channel string
		query   string
		wantOK  bool
		want    string
	}{
		{"login", "solar", "alice", true, "alice"},
		{"login upper", "solar", "ALICE", true, "alice"},
		{"at prefix", "solar", "@Alice", true, "alice"},
		{"display name", "solar", "ninjadev", true, "ninja_dev"},
		{"surrounding space", "solar", "  alice ", true, "alice"},
		{"other channel", "lunar", "alice", false, ""},
		{"unknown", "solar", "bob", false, ""},
		{"empty", "solar", "@", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := r.Find(tt.channel, tt.query)
			if ok != tt.wantOK || u.Login != tt.want {
				t.Errorf("Find(%q, %q) = %+v, %v; want %q, %v", tt.channel, tt.query, u, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRosterAddKeepsKnownDetails(t *testing.T) {
	r := NewRoster()
	r.Add("solar", bot.User{ID: "42", Login: "carol", DisplayName: "Carol"})
	// a later JOIN only carries the login
	r.Add("solar", bot.User{Login: "carol"})

	u, ok := r.Find("solar", "carol")
	if !ok || u.ID != "42" || u.DisplayName != "Carol" {
		t.Errorf("Find = %+v, %v; want id and display name kept", u, ok)
	}
	if r.Len("solar") != 1 {
		t.Errorf("Len = %d, want 1", r.Len("solar"))
	}
}

func TestRosterRemove(t *testing.T) {
	r := NewRoster()
	r.Add("solar", bot.User{Login: "dave"})
	r.Remove("solar", "DAVE")
	if _, ok := r.Find("solar", "dave"); ok {
		t.Error("dave should be gone after PART")
	}
	r.Remove("nowhere", "dave")
}

func TestRosterIgnoresEmptyLogin(t *testing.T) {
	r := NewRoster()
	r.Add("solar", bot.User{DisplayName: "Ghost"})
	if r.Len("solar") != 0 {
		t.Errorf("Len = %d, want 0", r.Len("solar"))
	}
}

func TestRosterConcurrent(t *testing.T) {
	r := NewRoster()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add("solar", bot.User{Login: "user"})
				r.Find("solar", "user")
				r.Remove("solar", "user")
			}
		}(i)
	}
	wg.Wait()
}

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newKey(t *testing.T) string {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{name: "empty key", key: "", errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), errorMsg: "must be 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.key)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("ParseKey() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("ParseKey() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestParseKeyList(t *testing.T) {
	got, err := ParseKeyList(" old:AAAA , older:BBBB ,")
	if err != nil {
		t.Fatalf("ParseKeyList() error = %v", err)
	}
	if len(got) != 2 || got["old"] != "AAAA" || got["older"] != "BBBB" {
		t.Errorf("ParseKeyList() = %v", got)
	}
	if got, err := ParseKeyList(""); err != nil || len(got) != 0 {
		t.Errorf("empty list = %v, %v", got, err)
	}
	for _, bad := range []string{"nokey", ":AAAA", "id:"} {
		if _, err := ParseKeyList(bad); err == nil {
			t.Errorf("ParseKeyList(%q) expected error", bad)
		}
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	k, err := NewKeyring("", newKey(t), nil)
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}
	if k.CurrentID() != "default" {
		t.Errorf("CurrentID() = %q, want default", k.CurrentID())
	}
	for _, plain := range []string{"oauth-access-token", "x", strings.Repeat("long", 500), "unicode 🔐"} {
		sealed, err := k.Seal(plain, "twitch/access_token")
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if strings.Contains(sealed, plain) {
			t.Errorf("sealed value leaks plaintext")
		}
		got, err := k.Open(k.CurrentID(), sealed, "twitch/access_token")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if got != plain {
			t.Errorf("Open() = %q, want %q", got, plain)
		}
	}
}

func TestSealIsRandomized(t *testing.T) {
	k, _ := NewKeyring("k1", newKey(t), nil)
	a, _ := k.Seal("same", "b")
	b, _ := k.Seal("same", "b")
	if a == b {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestSealEmpty(t *testing.T) {
	k, _ := NewKeyring("k1", newKey(t), nil)
	if s, err := k.Seal("", "b"); s != "" || err != nil {
		t.Errorf("Seal(\"\") = %q, %v", s, err)
	}
	if s, err := k.Open("k1", "", "b"); s != "" || err != nil {
		t.Errorf("Open(\"\") = %q, %v", s, err)
	}
}

func TestOpenRejectsWrongBinding(t *testing.T) {
	k, _ := NewKeyring("k1", newKey(t), nil)
	sealed, _ := k.Seal("secret", "twitch/refresh_token")
	if _, err := k.Open("k1", sealed, "youtube/refresh_token"); err == nil {
		t.Fatal("value moved to another row should not open")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	k, _ := NewKeyring("k1", newKey(t), nil)
	sealed, _ := k.Seal("secret", "b")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	if _, err := k.Open("k1", base64.StdEncoding.EncodeToString(raw), "b"); err == nil {
		t.Error("tampered ciphertext should not open")
	}
	if _, err := k.Open("k1", "AAAA", "b"); err == nil {
		t.Error("short ciphertext should not open")
	}
	if _, err := k.Open("k1", "%%%", "b"); err == nil {
		t.Error("invalid base64 should not open")
	}
}

func TestKeyRotation(t *testing.T) {
	oldKey := newKey(t)
	old, _ := NewKeyring("2024", oldKey, nil)
	sealed, _ := old.Seal("secret", "b")

	rotated, err := NewKeyring("2025", newKey(t), map[string]string{"2024": oldKey})
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}
	got, err := rotated.Open("2024", sealed, "b")
	if err != nil || got != "secret" {
		t.Fatalf("Open(old) = %q, %v", got, err)
	}

	fresh, _ := NewKeyring("2026", newKey(t), nil)
	if _, err := fresh.Open("2024", sealed, "b"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Open() error = %v, want ErrUnknownKey", err)
	}
}

func TestNewKeyringBadPreviousKey(t *testing.T) {
	if _, err := NewKeyring("k", newKey(t), map[string]string{"old": "short"}); err == nil {
		t.Fatal("expected error for invalid previous key")
	}
}

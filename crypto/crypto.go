// Package crypto seals OAuth token columns at rest with AES-256-GCM. Each
// sealed value is bound to the row and column it was written to, and records
// which key sealed it so keys can be rotated without losing old rows.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Version is the encryption_version written for rows sealed by a Keyring.
// Version 0 means plaintext.
const Version = 1

// ErrUnknownKey is returned by Open when the row names a key the keyring does not hold.
var ErrUnknownKey = errors.New("unknown encryption key id")

// Keyring holds the current sealing key and any previous keys still needed to open old rows.
type Keyring struct {
	current string
	aeads   map[string]cipher.AEAD
}

// ParseKey decodes a base64 AES-256 key. Generate one with:
//
//	openssl rand -base64 32
func ParseKey(base64Key string) ([]byte, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Key))
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	return key, nil
}

// ParseKeyList reads "id:key,id:key" as used by ENCRYPTION_PREVIOUS_KEYS.
func ParseKeyList(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, key, ok := strings.Cut(part, ":")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid key entry %q: want id:base64key", part)
		}
		out[id] = key
	}
	return out, nil
}

// NewKeyring seals with currentKey under currentID and opens rows sealed by
// any of the previous keys.
func NewKeyring(currentID, currentKey string, previous map[string]string) (*Keyring, error) {
	if currentID == "" {
		currentID = "default"
	}
	k := &Keyring{current: currentID, aeads: map[string]cipher.AEAD{}}
	for id, b64 := range previous {
		if err := k.add(id, b64); err != nil {
			return nil, fmt.Errorf("previous key %q: %w", id, err)
		}
	}
	if err := k.add(currentID, currentKey); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Keyring) add(id, b64 string) error {
	key, err := ParseKey(b64)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}
	k.aeads[id] = gcm
	return nil
}

// CurrentID names the key new rows are sealed with.
func (k *Keyring) CurrentID() string { return k.current }

// Seal encrypts plaintext bound to binding (e.g. "twitch/refresh_token") and
// returns base64(nonce || ciphertext || tag). Empty plaintext stays empty.
func (k *Keyring) Seal(plaintext, binding string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	gcm := k.aeads[k.current]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(binding))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal for a value written under keyID with the same binding.
func (k *Keyring) Open(keyID, sealed, binding string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	gcm, ok := k.aeads[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}
	n := gcm.NonceSize()
	plain, err := gcm.Open(nil, raw[:n], raw[n:], []byte(binding))
	if err != nil {
		// no detail: the GCM error only says authentication failed
		return "", errors.New("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

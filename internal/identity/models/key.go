package models

import (
	"encoding/hex"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"

	dErrors "nip05d/pkg/domain-errors"
)

// IdentityKey is a party's 32-byte public key in lowercase hex.
type IdentityKey string

// ParseIdentityKey accepts either 64-char hex or a bech32 npub.
func ParseIdentityKey(raw string) (IdentityKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeValidation, "pubkey is required")
	}
	if strings.HasPrefix(strings.ToLower(raw), "npub1") {
		prefix, value, err := nip19.Decode(strings.ToLower(raw))
		if err != nil || prefix != "npub" {
			return "", dErrors.New(dErrors.CodeValidation, "invalid npub")
		}
		hexKey, ok := value.(string)
		if !ok {
			return "", dErrors.New(dErrors.CodeValidation, "invalid npub")
		}
		return parseHexKey(hexKey)
	}
	return parseHexKey(raw)
}

func parseHexKey(raw string) (IdentityKey, error) {
	key := strings.ToLower(raw)
	if len(key) != 64 {
		return "", dErrors.New(dErrors.CodeValidation, "pubkey must be 64 hex characters or an npub")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "pubkey is not valid hex")
	}
	return IdentityKey(key), nil
}

func (k IdentityKey) String() string { return string(k) }

// Npub returns the NIP-19 encoding, or "" if the key is malformed.
func (k IdentityKey) Npub() string {
	npub, err := nip19.EncodePublicKey(string(k))
	if err != nil {
		return ""
	}
	return npub
}

// Short is the first eight hex characters, used in logs and placeholder names.
func (k IdentityKey) Short() string {
	if len(k) < 8 {
		return string(k)
	}
	return string(k[:8])
}

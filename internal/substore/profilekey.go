// Package substore holds the per-account sub-stores persisted inside the
// account blob: protocol key material and sessions, contacts, groups and
// profiles. Every reference to a contact is a recipient.Ref.
package substore

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ProfileKeySize is the length of a profile key in bytes.
const ProfileKeySize = 32

// ErrProfileKeyLength is returned when a decoded profile key is not 32 bytes.
var ErrProfileKeyLength = errors.New("substore: profile key must be 32 bytes")

// KeyError is returned when a persisted profile key cannot be decoded.
type KeyError struct {
	Value string
	Err   error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("substore: invalid profile key %q: %v", e.Value, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// ProfileKey is a 32-byte profile key, persisted as standard base64.
type ProfileKey [ProfileKeySize]byte

// ParseProfileKey decodes a base64 profile key.
func ParseProfileKey(s string) (*ProfileKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &KeyError{Value: s, Err: err}
	}
	if len(raw) != ProfileKeySize {
		return nil, &KeyError{Value: s, Err: ErrProfileKeyLength}
	}
	var k ProfileKey
	copy(k[:], raw)
	return &k, nil
}

func (k ProfileKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func (k ProfileKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ProfileKey) UnmarshalText(text []byte) error {
	parsed, err := ParseProfileKey(string(text))
	if err != nil {
		return err
	}
	*k = *parsed
	return nil
}

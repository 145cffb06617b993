package substore

import (
	"encoding/json"
	"slices"

	"github.com/matheus3301/sigstate/internal/recipient"
)

// TrustLevel records how much an identity key is trusted.
type TrustLevel string

const (
	TrustedUnverified TrustLevel = "TRUSTED_UNVERIFIED"
	TrustedVerified   TrustLevel = "TRUSTED_VERIFIED"
	Untrusted         TrustLevel = "UNTRUSTED"
)

// PreKey is a one-time pre-key record. The record bytes are opaque here;
// the protocol engine owns their encoding.
type PreKey struct {
	ID     uint32
	Record []byte
}

// SignedPreKey is a signed pre-key record.
type SignedPreKey struct {
	ID     uint32
	Record []byte
}

// Session is an established session with one device of a recipient.
type Session struct {
	Recipient recipient.Ref `json:"address"`
	DeviceID  int           `json:"deviceId"`
	Record    []byte        `json:"record"`
}

// Identity is a remote identity key together with its trust decision.
type Identity struct {
	Recipient      recipient.Ref `json:"address"`
	IdentityKey    []byte        `json:"identityKey"`
	TrustLevel     TrustLevel    `json:"trustLevel"`
	AddedTimestamp int64         `json:"addedTimestamp"`
}

// ProtocolStore is the protocol engine's key material: the local identity,
// pre-keys, signed pre-keys, sessions and remote identities.
type ProtocolStore struct {
	IdentityKeyPair []byte            `json:"identityKey"`
	RegistrationID  uint32            `json:"registrationId"`
	PreKeys         map[uint32][]byte `json:"preKeys"`
	SignedPreKeys   map[uint32][]byte `json:"signedPreKeys"`
	Sessions        []*Session        `json:"sessions"`
	Identities      []*Identity       `json:"identities"`
}

// NewProtocolStore returns a store for a freshly generated identity.
func NewProtocolStore(identityKeyPair []byte, registrationID uint32) *ProtocolStore {
	return &ProtocolStore{
		IdentityKeyPair: identityKeyPair,
		RegistrationID:  registrationID,
		PreKeys:         make(map[uint32][]byte),
		SignedPreKeys:   make(map[uint32][]byte),
		Sessions:        []*Session{},
		Identities:      []*Identity{},
	}
}

func (p *ProtocolStore) UnmarshalJSON(data []byte) error {
	type alias ProtocolStore
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = ProtocolStore(raw)
	if p.PreKeys == nil {
		p.PreKeys = make(map[uint32][]byte)
	}
	if p.SignedPreKeys == nil {
		p.SignedPreKeys = make(map[uint32][]byte)
	}
	if p.Sessions == nil {
		p.Sessions = []*Session{}
	}
	if p.Identities == nil {
		p.Identities = []*Identity{}
	}
	return nil
}

// StorePreKey stores a pre-key record, replacing any record with the same id.
func (p *ProtocolStore) StorePreKey(k PreKey) {
	p.PreKeys[k.ID] = k.Record
}

// LoadPreKey returns the pre-key record for id.
func (p *ProtocolStore) LoadPreKey(id uint32) ([]byte, bool) {
	r, ok := p.PreKeys[id]
	return r, ok
}

// RemovePreKey deletes a consumed pre-key.
func (p *ProtocolStore) RemovePreKey(id uint32) {
	delete(p.PreKeys, id)
}

// StoreSignedPreKey stores a signed pre-key record.
func (p *ProtocolStore) StoreSignedPreKey(k SignedPreKey) {
	p.SignedPreKeys[k.ID] = k.Record
}

// LoadSignedPreKey returns the signed pre-key record for id.
func (p *ProtocolStore) LoadSignedPreKey(id uint32) ([]byte, bool) {
	r, ok := p.SignedPreKeys[id]
	return r, ok
}

// StoreSession records a session, replacing the existing one for the same
// recipient and device.
func (p *ProtocolStore) StoreSession(ref recipient.Ref, deviceID int, record []byte) {
	for _, s := range p.Sessions {
		if s.DeviceID == deviceID && s.Recipient.Same(ref) {
			s.Recipient = ref
			s.Record = record
			return
		}
	}
	p.Sessions = append(p.Sessions, &Session{Recipient: ref, DeviceID: deviceID, Record: record})
}

// LoadSession returns the session for a recipient's device.
func (p *ProtocolStore) LoadSession(ref recipient.Ref, deviceID int) (*Session, bool) {
	for _, s := range p.Sessions {
		if s.DeviceID == deviceID && s.Recipient.Same(ref) {
			return s, true
		}
	}
	return nil, false
}

// DeleteSessions drops every session with the recipient.
func (p *ProtocolStore) DeleteSessions(ref recipient.Ref) {
	p.Sessions = slices.DeleteFunc(p.Sessions, func(s *Session) bool {
		return s.Recipient.Same(ref)
	})
}

// SaveIdentity records a remote identity key. It reports whether a different
// key was already stored for the recipient.
func (p *ProtocolStore) SaveIdentity(ref recipient.Ref, key []byte, trust TrustLevel, addedAt int64) bool {
	for _, id := range p.Identities {
		if id.Recipient.Same(ref) {
			changed := !slices.Equal(id.IdentityKey, key)
			id.Recipient = ref
			id.IdentityKey = key
			id.TrustLevel = trust
			if changed {
				id.AddedTimestamp = addedAt
			}
			return changed
		}
	}
	p.Identities = append(p.Identities, &Identity{
		Recipient:      ref,
		IdentityKey:    key,
		TrustLevel:     trust,
		AddedTimestamp: addedAt,
	})
	return false
}

// GetIdentity returns the stored identity for ref.
func (p *ProtocolStore) GetIdentity(ref recipient.Ref) (*Identity, bool) {
	for _, id := range p.Identities {
		if id.Recipient.Same(ref) {
			return id, true
		}
	}
	return nil, false
}

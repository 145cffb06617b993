// Package account persists one account's durable state as a single JSON
// document in a key/value backing store and loads it back, upgrading
// documents written by older versions on the way.
package account

import (
	"github.com/google/uuid"

	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/substore"
)

// PrimaryDeviceID is the device id of the account's primary device.
const PrimaryDeviceID = 1

// BackingStore is the opaque key/value store the account blob lives in.
// Get returns fallback when the key is unset.
type BackingStore interface {
	Get(key, fallback string) (string, error)
	Set(key, value string) error
}

// State is the aggregate persisted for one account.
type State struct {
	Handle              string
	StableID            uuid.NullUUID
	DeviceID            int
	MultiDevice         bool
	Password            string
	RegistrationLockPin *string
	SignalingKey        *string
	ProfileKey          *substore.ProfileKey
	PreKeyIDOffset      uint32
	NextSignedPreKeyID  uint32
	Registered          bool

	Protocol   *substore.ProtocolStore
	Groups     *substore.GroupStore
	Contacts   *substore.ContactStore
	Recipients *recipient.Store
	Profiles   *substore.ProfileStore
}

// Create returns the state of a new, not yet registered primary device.
func Create(handle string, identityKeyPair []byte, registrationID uint32, profileKey *substore.ProfileKey) *State {
	st := newState(handle, identityKeyPair, registrationID)
	st.ProfileKey = profileKey
	st.resolveSelf()
	return st
}

// CreateLinked returns the state of a secondary device that finished linking
// to an existing account. The device is registered immediately.
func CreateLinked(handle string, stableID uuid.UUID, password string, deviceID int, identityKeyPair []byte, registrationID uint32, signalingKey string, profileKey *substore.ProfileKey) *State {
	st := newState(handle, identityKeyPair, registrationID)
	st.StableID = uuid.NullUUID{UUID: stableID, Valid: stableID != uuid.Nil}
	st.Password = password
	st.DeviceID = deviceID
	st.MultiDevice = true
	st.SignalingKey = &signalingKey
	st.ProfileKey = profileKey
	st.Registered = true
	st.resolveSelf()
	return st
}

func newState(handle string, identityKeyPair []byte, registrationID uint32) *State {
	return &State{
		Handle:     handle,
		DeviceID:   PrimaryDeviceID,
		Protocol:   substore.NewProtocolStore(identityKeyPair, registrationID),
		Groups:     substore.NewGroupStore(),
		Contacts:   substore.NewContactStore(),
		Recipients: recipient.NewStore(),
		Profiles:   substore.NewProfileStore(),
	}
}

func (s *State) resolveSelf() {
	// Handle is never empty for a usable account; an empty one is caught on load.
	_, _ = s.Recipients.Resolve(s.SelfAddress())
}

// SelfAddress is the account's own address.
func (s *State) SelfAddress() recipient.Address {
	return recipient.NewAddress(s.Handle, s.StableID.UUID)
}

// SetStableID records the account's stable id once the service assigns it.
func (s *State) SetStableID(id uuid.UUID) {
	s.StableID = uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
	s.resolveSelf()
}

func (s *State) SetPassword(password string) {
	s.Password = password
}

func (s *State) SetRegistrationLockPin(pin *string) {
	s.RegistrationLockPin = pin
}

func (s *State) SetSignalingKey(key *string) {
	s.SignalingKey = key
}

func (s *State) SetProfileKey(key *substore.ProfileKey) {
	s.ProfileKey = key
}

func (s *State) SetMultiDevice(multi bool) {
	s.MultiDevice = multi
}

func (s *State) SetRegistered(registered bool) {
	s.Registered = registered
}

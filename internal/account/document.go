package account

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/substore"
)

const (
	settingsKey   = "signaldata"
	schemaVersion = 2
)

// document is the decoded shape of a stored blob. Pointers and raw sections
// let the loader tell an absent or null field from a zero value.
type document struct {
	SchemaVersion       *int    `json:"schemaVersion"`
	Username            *string `json:"username"`
	UUID                *string `json:"uuid"`
	DeviceID            *int    `json:"deviceId"`
	IsMultiDevice       *bool   `json:"isMultiDevice"`
	Password            *string `json:"password"`
	RegistrationLockPin *string `json:"registrationLockPin"`
	SignalingKey        *string `json:"signalingKey"`
	PreKeyIDOffset      *int64  `json:"preKeyIdOffset"`
	NextSignedPreKeyID  *int64  `json:"nextSignedPreKeyId"`
	ProfileKey          *string `json:"profileKey"`
	Registered          *bool   `json:"registered"`

	AxolotlStore   json.RawMessage `json:"axolotlStore"`
	GroupStore     json.RawMessage `json:"groupStore"`
	ContactStore   json.RawMessage `json:"contactStore"`
	RecipientStore json.RawMessage `json:"recipientStore"`
	ProfileStore   json.RawMessage `json:"profileStore"`
	ThreadStore    json.RawMessage `json:"threadStore"`
}

// upgrade lists the work needed to bring a decoded document up to date.
type upgrade struct {
	legacy            bool
	rebuildRecipients bool
	migrateThreads    bool
}

func (d *document) plan() upgrade {
	return upgrade{
		legacy:            d.SchemaVersion == nil || *d.SchemaVersion < schemaVersion,
		rebuildRecipients: !present(d.RecipientStore),
		migrateThreads:    present(d.ThreadStore),
	}
}

func (d *document) requireFields() error {
	switch {
	case d.Username == nil:
		return &MissingFieldError{Field: "username"}
	case d.Password == nil:
		return &MissingFieldError{Field: "password"}
	case d.Registered == nil:
		return &MissingFieldError{Field: "registered"}
	case !present(d.AxolotlStore):
		return &MissingFieldError{Field: "axolotlStore"}
	}
	return nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// decodeSection decodes one sub-store, classifying failures: a bad nested
// stable id or profile key is an identifier error, anything else makes the
// section malformed.
func decodeSection(name string, raw json.RawMessage, v any) error {
	err := json.Unmarshal(raw, v)
	if err == nil {
		return nil
	}
	var pe *recipient.ParseError
	if errors.As(err, &pe) {
		return &InvalidIdentifierError{Field: name + ".uuid", Value: pe.Value, Err: err}
	}
	var ke *substore.KeyError
	if errors.As(err, &ke) {
		return &InvalidIdentifierError{Field: name + ".profileKey", Value: ke.Value, Err: err}
	}
	return &MalformedStateError{Section: name, Err: err}
}

// savedDocument is the shape written on save. Optional identifiers are
// written as null when absent.
type savedDocument struct {
	SchemaVersion       int                     `json:"schemaVersion"`
	Username            string                  `json:"username"`
	UUID                *string                 `json:"uuid"`
	DeviceID            int                     `json:"deviceId"`
	IsMultiDevice       bool                    `json:"isMultiDevice"`
	Password            string                  `json:"password"`
	RegistrationLockPin *string                 `json:"registrationLockPin"`
	SignalingKey        *string                 `json:"signalingKey"`
	PreKeyIDOffset      uint32                  `json:"preKeyIdOffset"`
	NextSignedPreKeyID  uint32                  `json:"nextSignedPreKeyId"`
	ProfileKey          *substore.ProfileKey    `json:"profileKey"`
	Registered          bool                    `json:"registered"`
	AxolotlStore        *substore.ProtocolStore `json:"axolotlStore"`
	GroupStore          *substore.GroupStore    `json:"groupStore"`
	ContactStore        *substore.ContactStore  `json:"contactStore"`
	RecipientStore      *recipient.Store        `json:"recipientStore"`
	ProfileStore        *substore.ProfileStore  `json:"profileStore"`
}

func (s *State) document() savedDocument {
	doc := savedDocument{
		SchemaVersion:       schemaVersion,
		Username:            s.Handle,
		DeviceID:            s.DeviceID,
		IsMultiDevice:       s.MultiDevice,
		Password:            s.Password,
		RegistrationLockPin: s.RegistrationLockPin,
		SignalingKey:        s.SignalingKey,
		PreKeyIDOffset:      s.PreKeyIDOffset,
		NextSignedPreKeyID:  s.NextSignedPreKeyID,
		ProfileKey:          s.ProfileKey,
		Registered:          s.Registered,
		AxolotlStore:        s.Protocol,
		GroupStore:          s.Groups,
		ContactStore:        s.Contacts,
		RecipientStore:      s.Recipients,
		ProfileStore:        s.Profiles,
	}
	if s.StableID.Valid {
		id := s.StableID.UUID.String()
		doc.UUID = &id
	}
	return doc
}

// marshalDocument is replaced in tests to force encode failures.
var marshalDocument = func(doc savedDocument) ([]byte, error) {
	return json.Marshal(doc)
}

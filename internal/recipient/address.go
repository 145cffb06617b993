package recipient

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Address identifies a recipient by whichever identifier forms are known:
// a handle (phone number), a stable service UUID, or both.
type Address struct {
	Number string
	UUID   uuid.NullUUID
}

// NewAddress builds an address from a handle and a stable id. Either may be
// empty (uuid.Nil for the id).
func NewAddress(number string, id uuid.UUID) Address {
	return Address{Number: number, UUID: uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}}
}

// IsEmpty reports whether neither identifier form is known.
func (a Address) IsEmpty() bool {
	return a.Number == "" && !a.UUID.Valid
}

// Matches reports whether a and b refer to the same recipient. UUIDs are
// compared when both sides carry one, handles otherwise.
func (a Address) Matches(b Address) bool {
	if a.UUID.Valid && b.UUID.Valid {
		return a.UUID.UUID == b.UUID.UUID
	}
	return a.Number != "" && a.Number == b.Number
}

// Covers reports whether every form present in b is also present, with the
// same value, in a.
func (a Address) Covers(b Address) bool {
	if b.UUID.Valid && (!a.UUID.Valid || a.UUID.UUID != b.UUID.UUID) {
		return false
	}
	return b.Number == "" || a.Number == b.Number
}

func (a Address) String() string {
	switch {
	case a.UUID.Valid && a.Number != "":
		return a.UUID.UUID.String() + "/" + a.Number
	case a.UUID.Valid:
		return a.UUID.UUID.String()
	default:
		return a.Number
	}
}

// ParseError is returned when a persisted stable id is not a valid UUID.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recipient: invalid uuid %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseUUID(s string) (uuid.NullUUID, error) {
	if s == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}, &ParseError{Value: s, Err: err}
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

type addressJSON struct {
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
}

func (a Address) toJSON() addressJSON {
	out := addressJSON{Number: a.Number}
	if a.UUID.Valid {
		out.UUID = a.UUID.UUID.String()
	}
	return out
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toJSON())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var raw addressJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := parseUUID(raw.UUID)
	if err != nil {
		return err
	}
	*a = Address{Number: raw.Number, UUID: id}
	return nil
}

// Ref is how sub-stores persist a reference to a recipient: the canonical id
// (zero until resolved) plus the identifier forms known at the time.
type Ref struct {
	ID      ID
	Address Address
}

// Same reports whether two refs point at the same recipient. Canonical ids
// decide when both are resolved.
func (r Ref) Same(o Ref) bool {
	if r.ID != 0 && o.ID != 0 {
		return r.ID == o.ID
	}
	return r.Address.Matches(o.Address)
}

type refJSON struct {
	ID     ID     `json:"recipientId,omitempty"`
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	addr := r.Address.toJSON()
	return json.Marshal(refJSON{ID: r.ID, Number: addr.Number, UUID: addr.UUID})
}

// UnmarshalJSON accepts both the object form and the bare handle string that
// old group stores used for members.
func (r *Ref) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var number string
		if err := json.Unmarshal(data, &number); err != nil {
			return err
		}
		*r = Ref{Address: Address{Number: number}}
		return nil
	}
	var raw refJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := parseUUID(raw.UUID)
	if err != nil {
		return err
	}
	*r = Ref{ID: raw.ID, Address: Address{Number: raw.Number, UUID: id}}
	return nil
}

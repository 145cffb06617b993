// Package recipient canonicalizes contact identities. Every handle and every
// stable UUID maps to at most one canonical recipient id, and the mapping is
// persisted with the account so ids stay stable across restarts.
package recipient

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ID is a canonical recipient id. Ids start at 1 and are never reused.
type ID int64

// ErrEmptyAddress is returned when resolving an address with no identifier forms.
var ErrEmptyAddress = errors.New("recipient: address has neither number nor uuid")

// Recipient is one canonical record.
type Recipient struct {
	ID      ID      `json:"id"`
	Address Address `json:"address"`
}

// Store is the identity-resolution table. It is not safe for concurrent use;
// callers serialize through the account mutation lock.
type Store struct {
	lastID   ID
	byID     map[ID]*Recipient
	byNumber map[string]ID
	byUUID   map[uuid.UUID]ID
}

// NewStore returns an empty resolution table.
func NewStore() *Store {
	return &Store{
		byID:     make(map[ID]*Recipient),
		byNumber: make(map[string]ID),
		byUUID:   make(map[uuid.UUID]ID),
	}
}

// Resolve returns the canonical id for addr, creating or enriching a record
// as needed. A UUID match always wins over a handle match: handles can be
// reassigned by the network, UUIDs cannot.
func (s *Store) Resolve(addr Address) (ID, error) {
	if addr.IsEmpty() {
		return 0, ErrEmptyAddress
	}

	if addr.UUID.Valid {
		if id, ok := s.byUUID[addr.UUID.UUID]; ok {
			if addr.Number != "" {
				s.assignNumber(id, addr.Number)
			}
			return id, nil
		}
	}

	if addr.Number != "" {
		if id, ok := s.byNumber[addr.Number]; ok {
			r := s.byID[id]
			switch {
			case !addr.UUID.Valid:
				return id, nil
			case !r.Address.UUID.Valid:
				r.Address.UUID = addr.UUID
				s.byUUID[addr.UUID.UUID] = id
				return id, nil
			}
			// The handle now belongs to a different account.
			s.detachNumber(id)
		}
	}

	return s.insert(addr), nil
}

// ResolveRef resolves ref in place: its id is set to the canonical id and
// its address is replaced by the (possibly enriched) canonical address.
func (s *Store) ResolveRef(ref *Ref) error {
	if ref.Address.IsEmpty() {
		if r, ok := s.byID[ref.ID]; ok && ref.ID != 0 {
			ref.Address = r.Address
			return nil
		}
		return ErrEmptyAddress
	}
	id, err := s.Resolve(ref.Address)
	if err != nil {
		return err
	}
	ref.ID = id
	ref.Address = s.byID[id].Address
	return nil
}

// Lookup finds the record for addr without modifying the table.
func (s *Store) Lookup(addr Address) (Recipient, bool) {
	if addr.UUID.Valid {
		if id, ok := s.byUUID[addr.UUID.UUID]; ok {
			return *s.byID[id], true
		}
	}
	if addr.Number != "" {
		if id, ok := s.byNumber[addr.Number]; ok {
			return *s.byID[id], true
		}
	}
	return Recipient{}, false
}

// Get returns the record with the given canonical id.
func (s *Store) Get(id ID) (Recipient, bool) {
	r, ok := s.byID[id]
	if !ok {
		return Recipient{}, false
	}
	return *r, true
}

// Len returns the number of canonical records.
func (s *Store) Len() int {
	return len(s.byID)
}

// All returns every record ordered by id.
func (s *Store) All() []Recipient {
	out := make([]Recipient, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b Recipient) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) insert(addr Address) ID {
	s.lastID++
	id := s.lastID
	s.byID[id] = &Recipient{ID: id, Address: addr}
	if addr.Number != "" {
		if prev, ok := s.byNumber[addr.Number]; ok && prev != id {
			s.byID[prev].Address.Number = ""
		}
		s.byNumber[addr.Number] = id
	}
	if addr.UUID.Valid {
		s.byUUID[addr.UUID.UUID] = id
	}
	return id
}

// assignNumber moves number onto the record id, taking it away from any
// other record that held it.
func (s *Store) assignNumber(id ID, number string) {
	r := s.byID[id]
	if r.Address.Number == number {
		return
	}
	if other, ok := s.byNumber[number]; ok && other != id {
		s.byID[other].Address.Number = ""
	}
	if r.Address.Number != "" {
		delete(s.byNumber, r.Address.Number)
	}
	r.Address.Number = number
	s.byNumber[number] = id
}

func (s *Store) detachNumber(id ID) {
	r := s.byID[id]
	delete(s.byNumber, r.Address.Number)
	r.Address.Number = ""
}

type storeJSON struct {
	LastID     ID          `json:"lastId"`
	Recipients []Recipient `json:"recipients"`
}

func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(storeJSON{LastID: s.lastID, Recipients: s.All()})
}

func (s *Store) UnmarshalJSON(data []byte) error {
	var raw storeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fresh := NewStore()
	for _, r := range raw.Recipients {
		if r.ID <= 0 {
			return fmt.Errorf("recipient: invalid id %d", r.ID)
		}
		if _, dup := fresh.byID[r.ID]; dup {
			return fmt.Errorf("recipient: duplicate id %d", r.ID)
		}
		rec := r
		fresh.byID[r.ID] = &rec
		if r.Address.Number != "" {
			if _, dup := fresh.byNumber[r.Address.Number]; dup {
				return fmt.Errorf("recipient: number %q mapped twice", r.Address.Number)
			}
			fresh.byNumber[r.Address.Number] = r.ID
		}
		if r.Address.UUID.Valid {
			if _, dup := fresh.byUUID[r.Address.UUID.UUID]; dup {
				return fmt.Errorf("recipient: uuid %s mapped twice", r.Address.UUID.UUID)
			}
			fresh.byUUID[r.Address.UUID.UUID] = r.ID
		}
		fresh.lastID = max(fresh.lastID, r.ID)
	}
	fresh.lastID = max(fresh.lastID, raw.LastID)
	*s = *fresh
	return nil
}

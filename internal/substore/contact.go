package substore

import (
	"encoding/json"

	"github.com/matheus3301/sigstate/internal/recipient"
)

// Contact is one entry of the address book.
type Contact struct {
	Recipient             recipient.Ref `json:"address"`
	Name                  string        `json:"name,omitempty"`
	Color                 string        `json:"color,omitempty"`
	MessageExpirationTime int           `json:"messageExpirationTime"`
	ProfileKey            *ProfileKey   `json:"profileKey,omitempty"`
	Blocked               bool          `json:"blocked"`
	Archived              bool          `json:"archived"`
	InboxPosition         *int          `json:"inboxPosition,omitempty"`
}

// ContactStore is the address book.
type ContactStore struct {
	Contacts []*Contact `json:"contacts"`
}

// NewContactStore returns an empty address book.
func NewContactStore() *ContactStore {
	return &ContactStore{Contacts: []*Contact{}}
}

func (c *ContactStore) UnmarshalJSON(data []byte) error {
	type alias ContactStore
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ContactStore(raw)
	if c.Contacts == nil {
		c.Contacts = []*Contact{}
	}
	return nil
}

// Get returns the contact matching addr, or nil.
func (c *ContactStore) Get(addr recipient.Address) *Contact {
	for _, ct := range c.Contacts {
		if ct.Recipient.Address.Matches(addr) {
			return ct
		}
	}
	return nil
}

// Update inserts contact or replaces the entry for the same recipient.
func (c *ContactStore) Update(contact *Contact) {
	for i, ct := range c.Contacts {
		if ct.Recipient.Same(contact.Recipient) {
			c.Contacts[i] = contact
			return
		}
	}
	c.Contacts = append(c.Contacts, contact)
}

// All returns every contact.
func (c *ContactStore) All() []*Contact {
	return c.Contacts
}

package substore

import (
	"encoding/json"

	"github.com/matheus3301/sigstate/internal/recipient"
)

// Profile is the last fetched profile of a recipient.
type Profile struct {
	Recipient           recipient.Ref `json:"address"`
	ProfileKey          *ProfileKey   `json:"profileKey,omitempty"`
	GivenName           string        `json:"givenName,omitempty"`
	FamilyName          string        `json:"familyName,omitempty"`
	About               string        `json:"about,omitempty"`
	UnidentifiedAccess  string        `json:"unidentifiedAccess,omitempty"`
	LastUpdateTimestamp int64         `json:"lastUpdateTimestamp"`
}

// ProfileStore holds fetched profiles.
type ProfileStore struct {
	Profiles []*Profile `json:"profiles"`
}

// NewProfileStore returns an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{Profiles: []*Profile{}}
}

func (p *ProfileStore) UnmarshalJSON(data []byte) error {
	type alias ProfileStore
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = ProfileStore(raw)
	if p.Profiles == nil {
		p.Profiles = []*Profile{}
	}
	return nil
}

// Get returns the profile for ref, or nil.
func (p *ProfileStore) Get(ref recipient.Ref) *Profile {
	for _, pr := range p.Profiles {
		if pr.Recipient.Same(ref) {
			return pr
		}
	}
	return nil
}

// Update inserts profile or replaces the entry for the same recipient.
func (p *ProfileStore) Update(profile *Profile) {
	for i, pr := range p.Profiles {
		if pr.Recipient.Same(profile.Recipient) {
			p.Profiles[i] = profile
			return
		}
	}
	p.Profiles = append(p.Profiles, profile)
}

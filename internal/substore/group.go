package substore

import (
	"bytes"
	"encoding/json"

	"github.com/matheus3301/sigstate/internal/recipient"
)

// Group is a (v1) group the account belongs to. The id is raw bytes; JSON
// carries it as base64.
type Group struct {
	ID                    []byte          `json:"groupId"`
	Name                  string          `json:"name,omitempty"`
	Members               []recipient.Ref `json:"members"`
	Color                 string          `json:"color,omitempty"`
	MessageExpirationTime int             `json:"messageExpirationTime"`
	Blocked               bool            `json:"blocked"`
	Archived              bool            `json:"archived"`
}

// GroupStore holds every known group.
type GroupStore struct {
	Groups []*Group `json:"groups"`
}

// NewGroupStore returns an empty group store.
func NewGroupStore() *GroupStore {
	return &GroupStore{Groups: []*Group{}}
}

func (g *GroupStore) UnmarshalJSON(data []byte) error {
	type alias GroupStore
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = GroupStore(raw)
	if g.Groups == nil {
		g.Groups = []*Group{}
	}
	return nil
}

// Get returns the group with the given id, or nil.
func (g *GroupStore) Get(id []byte) *Group {
	for _, gr := range g.Groups {
		if bytes.Equal(gr.ID, id) {
			return gr
		}
	}
	return nil
}

// Update inserts group or replaces the entry with the same id.
func (g *GroupStore) Update(group *Group) {
	for i, gr := range g.Groups {
		if bytes.Equal(gr.ID, group.ID) {
			g.Groups[i] = group
			return
		}
	}
	g.Groups = append(g.Groups, group)
}

// All returns every group.
func (g *GroupStore) All() []*Group {
	return g.Groups
}

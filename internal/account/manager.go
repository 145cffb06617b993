package account

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/substore"
)

// Manager serializes every access to one account's state. Mutations and the
// save that persists them happen under a single lock, so the receive loop and
// foreground callers never observe or write a half-updated aggregate.
type Manager struct {
	mu      sync.Mutex
	state   *State
	backing BackingStore
	logger  *zap.Logger
}

// NewManager wraps an already loaded or created state.
func NewManager(st *State, bs BackingStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{state: st, backing: bs, logger: logger}
}

// Open loads the account held by bs and wraps it in a Manager.
func Open(bs BackingStore, opts ...Option) (*Manager, error) {
	o := buildOptions(opts)
	st, err := Load(bs, opts...)
	if err != nil {
		return nil, err
	}
	return NewManager(st, bs, o.logger), nil
}

// View runs fn with the state locked. fn must not retain the pointer.
func (m *Manager) View(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

// Update runs fn with the state locked and saves the result. If fn fails
// nothing is saved.
func (m *Manager) Update(fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fn(m.state); err != nil {
		return err
	}
	return m.saveLocked()
}

// Save persists the current state.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := Save(m.state, m.backing); err != nil {
		m.logger.Error("failed to save account state", zap.String("account", m.state.Handle), zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) AddPreKeys(records []substore.PreKey) error {
	return m.Update(func(s *State) error {
		s.AddPreKeys(records)
		return nil
	})
}

func (m *Manager) AddSignedPreKey(record substore.SignedPreKey) error {
	return m.Update(func(s *State) error {
		s.AddSignedPreKey(record)
		return nil
	})
}

func (m *Manager) RemovePreKey(id uint32) error {
	return m.Update(func(s *State) error {
		s.Protocol.RemovePreKey(id)
		return nil
	})
}

// StoreSession records a session with addr's device, resolving addr first.
func (m *Manager) StoreSession(addr recipient.Address, deviceID int, record []byte) error {
	return m.Update(func(s *State) error {
		ref := recipient.Ref{Address: addr}
		if err := s.Recipients.ResolveRef(&ref); err != nil {
			return err
		}
		s.Protocol.StoreSession(ref, deviceID, record)
		return nil
	})
}

// SaveIdentity records addr's identity key. It reports whether the key
// replaced a different one.
func (m *Manager) SaveIdentity(addr recipient.Address, key []byte, trust substore.TrustLevel, addedAt int64) (bool, error) {
	var changed bool
	err := m.Update(func(s *State) error {
		ref := recipient.Ref{Address: addr}
		if err := s.Recipients.ResolveRef(&ref); err != nil {
			return err
		}
		changed = s.Protocol.SaveIdentity(ref, key, trust, addedAt)
		return nil
	})
	return changed, err
}

// ResolveRecipient returns the canonical id for addr. The state is saved
// only when resolution created or enriched a record.
func (m *Manager) ResolveRecipient(addr recipient.Address) (recipient.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.state.Recipients.Lookup(addr); ok && r.Address.Covers(addr) {
		return r.ID, nil
	}
	id, err := m.state.Recipients.Resolve(addr)
	if err != nil {
		return 0, err
	}
	if err := m.saveLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Manager) SetRegistered(registered bool) error {
	return m.Update(func(s *State) error {
		s.SetRegistered(registered)
		return nil
	})
}

func (m *Manager) SetStableID(id uuid.UUID) error {
	return m.Update(func(s *State) error {
		s.SetStableID(id)
		return nil
	})
}

func (m *Manager) SetProfileKey(key *substore.ProfileKey) error {
	return m.Update(func(s *State) error {
		s.SetProfileKey(key)
		return nil
	})
}

// Handle returns the account handle.
func (m *Manager) Handle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Handle
}

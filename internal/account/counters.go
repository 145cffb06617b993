package account

import "github.com/matheus3301/sigstate/internal/substore"

// MediumMax bounds pre-key ids: every id counter lives in [0, MediumMax).
const MediumMax = 1 << 24

// AddPreKeys stores a batch of freshly generated pre-keys and advances the
// id offset past them.
func (s *State) AddPreKeys(records []substore.PreKey) {
	for _, r := range records {
		s.Protocol.StorePreKey(r)
	}
	s.PreKeyIDOffset = advance(s.PreKeyIDOffset, len(records))
}

// AddSignedPreKey stores a signed pre-key and advances the next id.
func (s *State) AddSignedPreKey(record substore.SignedPreKey) {
	s.Protocol.StoreSignedPreKey(record)
	s.NextSignedPreKeyID = advance(s.NextSignedPreKeyID, 1)
}

// NextPreKeyIDs returns the ids the next n generated pre-keys should use.
func (s *State) NextPreKeyIDs(n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = advance(s.PreKeyIDOffset, i)
	}
	return ids
}

func advance(counter uint32, n int) uint32 {
	return uint32((uint64(counter) + uint64(n)) % MediumMax)
}

// wrapCounter brings a persisted counter into [0, MediumMax).
func wrapCounter(v int64) uint32 {
	return uint32(((v % MediumMax) + MediumMax) % MediumMax)
}

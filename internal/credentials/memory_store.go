package credentials

import (
	"context"
	"sync"
)

type storeKey struct {
	userID   string
	provider Provider
}

// MemoryStore keeps credential records and OAuth transactions in process
// memory. It backs tests and single-process demo deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[storeKey]Record
	states  map[storeKey]TransactionState
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[storeKey]Record),
		states:  make(map[storeKey]TransactionState),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string, provider Provider) (Record, error) {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return Record{}, ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[storeKey{userID: userID, provider: provider}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) Put(_ context.Context, record Record) error {
	record.UserID = normalizeUserID(record.UserID)
	if record.UserID == "" || record.Provider == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[storeKey{userID: record.UserID, provider: record.Provider}] = record
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string, provider Provider) error {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, storeKey{userID: userID, provider: provider})
	return nil
}

func (s *MemoryStore) PutState(_ context.Context, state TransactionState) error {
	state.UserID = normalizeUserID(state.UserID)
	if state.UserID == "" || state.Provider == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[storeKey{userID: state.UserID, provider: state.Provider}] = state
	return nil
}

func (s *MemoryStore) ConsumeState(_ context.Context, userID string, provider Provider) (string, error) {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return "", ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey{userID: userID, provider: provider}
	state, ok := s.states[key]
	if !ok {
		return "", ErrNoTransaction
	}
	delete(s.states, key)
	return state.Nonce, nil
}

func (s *MemoryStore) ClearState(_ context.Context, userID string, provider Provider) error {
	userID = normalizeUserID(userID)
	if userID == "" || provider == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, storeKey{userID: userID, provider: provider})
	return nil
}

package credential

import (
	"sync"

	"github.com/ashureev/sealbox/internal/domain"
)

// MemoryStore is a Store that keeps everything in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.Credentials
	current string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.Credentials)}
}

func (s *MemoryStore) Save(creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(creds.Address)
	s.records[key] = creds
	s.current = key
	return nil
}

func (s *MemoryStore) Load(address string) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.records[normalize(address)]
	if !ok {
		return domain.Credentials{}, ErrNotFound
	}
	return creds, nil
}

func (s *MemoryStore) Current() (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return domain.Credentials{}, ErrNotFound
	}
	creds, ok := s.records[s.current]
	if !ok {
		return domain.Credentials{}, ErrNotFound
	}
	return creds, nil
}

func (s *MemoryStore) Delete(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(address)
	delete(s.records, key)
	if s.current == key {
		s.current = ""
	}
	return nil
}

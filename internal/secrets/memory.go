// ABOUTME: In-memory credential store for tests and one-shot commands

package secrets

import "sync"

// MemoryStore keeps credentials in a map.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]Credentials
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credentials)}
}

func (m *MemoryStore) Set(c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[key(c.Type, c.Username)] = c
	return nil
}

func (m *MemoryStore) Get(typ Type, username string) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[key(typ, username)]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Delete(typ Type, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, key(typ, username))
	return nil
}

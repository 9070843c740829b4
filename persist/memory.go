package persist

import (
	"context"
	"sync"

	"github.com/goliatone/go-authguard"
)

// Memory keeps the session for the lifetime of the process only.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty in-process storage.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Storage.
func (m *Memory) Load(_ context.Context) (*authguard.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return decode(m.data)
}

// Save implements Storage.
func (m *Memory) Save(_ context.Context, session *authguard.Session) error {
	data, err := encode(session)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// Clear implements Storage.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

package authflow

import "sync"

// LocalState remembers who signed in on this client. It is a display hint only: the server
// decides every authorization question from the bearer.
type LocalState interface {
	SetAdminAuthenticated(v bool)
	AdminAuthenticated() bool
	SetCurrentUser(u *User)
	CurrentUser() (*User, bool)
	Clear()
}

// MemoryState is a LocalState scoped to one process.
type MemoryState struct {
	mu    sync.RWMutex
	admin bool
	user  *User
}

func NewMemoryState() *MemoryState { return &MemoryState{} }

func (m *MemoryState) SetAdminAuthenticated(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admin = v
}

func (m *MemoryState) AdminAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.admin
}

func (m *MemoryState) SetCurrentUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u == nil {
		m.user = nil
		return
	}
	cp := *u
	m.user = &cp
}

func (m *MemoryState) CurrentUser() (*User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil, false
	}
	cp := *m.user
	return &cp, true
}

func (m *MemoryState) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admin = false
	m.user = nil
}

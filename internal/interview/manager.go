package interview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Session is the bookkeeping record for one mounted interview instance.
type Session struct {
	ID             string    `json:"session_id"`
	Params         Params    `json:"params"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ControllerFactory builds the controller for a newly created session.
type ControllerFactory func(sessionID string, params Params) *Controller

// Manager tracks live interview sessions and their controllers, expiring
// sessions that sit idle past the inactivity timeout.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	controllers       map[string]*Controller
	inactivityTimeout time.Duration
	newController     ControllerFactory
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, factory ControllerFactory) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		controllers:       make(map[string]*Controller),
		inactivityTimeout: inactivityTimeout,
		newController:     factory,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(params Params) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Params:         params,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.controllers[s.ID] = m.newController(s.ID, params)
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Controller resolves the live controller for a session.
func (m *Manager) Controller(sessionID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End stops and tears down a session's controller and removes the session.
func (m *Manager) End(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	c := m.controllers[sessionID]
	delete(m.sessions, sessionID)
	delete(m.controllers, sessionID)
	out := clone(s)
	m.mu.Unlock()

	if c != nil {
		_ = c.Stop(ctx)
		_ = c.Close()
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive(ctx)
			}
		}
	}()
}

// ActiveCount reports sessions whose call is connecting or active.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for id := range m.sessions {
		c := m.controllers[id]
		if c == nil {
			continue
		}
		switch c.Status() {
		case StatusConnecting, StatusActive:
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive(ctx context.Context) {
	now := time.Now().UTC()
	var expired []*Session
	var controllers []*Controller

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		expired = append(expired, clone(s))
		if c := m.controllers[id]; c != nil {
			controllers = append(controllers, c)
		}
		delete(m.sessions, id)
		delete(m.controllers, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, c := range controllers {
		_ = c.Stop(ctx)
		_ = c.Close()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNilDialer       = errors.New("dialer cannot be nil")
)

// Dialer opens a new event channel to the quiz server
type Dialer func(ctx context.Context) (Conn, error)

// Manager handles local session lifecycle
type Manager struct {
	sessions map[string]*Session
	dial     Dialer
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a session manager that connects new sessions with dial
func NewManager(dial Dialer, logger *zap.Logger) (*Manager, error) {
	if dial == nil {
		return nil, ErrNilDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		dial:     dial,
		logger:   logger,
	}, nil
}

// Create dials the server and starts a new session for playerName
func (m *Manager) Create(ctx context.Context, playerName string) (*Session, error) {
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	id := uuid.NewString()
	sess, err := New(id, strings.TrimSpace(playerName), conn, m.logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[strings.ToLower(id)] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session", id),
		zap.String("player", playerName),
		zap.Int("total", count))

	return sess, nil
}

// Get retrieves a session by ID (case-insensitive)
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[strings.ToLower(id)]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns all sessions, oldest first
func (m *Manager) List() []*Session {
	m.mu.RLock()
	result := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Delete closes and removes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	key := strings.ToLower(id)
	sess, exists := m.sessions[key]
	if exists {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}

	if err := sess.Close(); err != nil {
		m.logger.Warn("error closing session connection",
			zap.String("session", sess.ID), zap.Error(err))
	}
	return nil
}

// Touch marks a session as used now
func (m *Manager) Touch(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.touch()
	return nil
}

// CleanupExpiredSessions closes sessions that have not been used within maxAge
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var expired []*Session
	for key, sess := range m.sessions {
		if sess.LastAccessedAt().Before(cutoff) {
			delete(m.sessions, key)
			expired = append(expired, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
	}
	return len(expired)
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes and forgets every session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	if len(sessions) > 0 {
		m.logger.Info("closed all sessions", zap.Int("count", len(sessions)))
	}
}

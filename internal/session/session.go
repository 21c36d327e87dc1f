// Package session provides signup, login, and bearer-token sessions.
// Tokens live in process memory; durable identity (users, accounts)
// lives in the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockfx/ledger-engine/internal/model"
	"github.com/stockfx/ledger-engine/internal/store"
)

var (
	// ErrInvalidCredentials is returned for an unknown username or a
	// wrong password; the two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("session: invalid username or password")

	// ErrUsernameTaken is returned by Signup for a duplicate username.
	ErrUsernameTaken = errors.New("session: username already taken")
)

type entry struct {
	userID  string
	expires time.Time
}

// Manager issues and validates session tokens.
type Manager struct {
	store store.Store
	ttl   time.Duration

	mu       sync.RWMutex
	sessions map[string]entry // token → session
}

// NewManager creates a session manager with the given token lifetime.
func NewManager(st store.Store, ttl time.Duration) *Manager {
	return &Manager{
		store:    st,
		ttl:      ttl,
		sessions: make(map[string]entry),
	}
}

// Signup registers a new user. The user's account is created with a zero
// cash balance in the same store transaction.
func (m *Manager) Signup(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a bearer token.
func (m *Manager) Login(ctx context.Context, username, password string) (string, error) {
	user, err := m.store.GetUserByName(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token := uuid.New().String()
	m.mu.Lock()
	m.sessions[token] = entry{userID: user.ID, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return token, nil
}

// Logout invalidates a token. Unknown tokens are a no-op.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// UserID resolves a token to its user, dropping expired sessions.
func (m *Manager) UserID(token string) (string, bool) {
	m.mu.RLock()
	e, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		m.Logout(token)
		return "", false
	}
	return e.userID, true
}

// ActiveUsers returns the distinct user IDs with a live session. The
// value-series sampler uses this to know whose portfolios to sample.
func (m *Manager) ActiveUsers() []string {
	now := time.Now()

	m.mu.RLock()
	seen := make(map[string]bool)
	var users []string
	for _, e := range m.sessions {
		if now.After(e.expires) || seen[e.userID] {
			continue
		}
		seen[e.userID] = true
		users = append(users, e.userID)
	}
	m.mu.RUnlock()
	return users
}

package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const CookieName = "elit21_session"

type Session struct {
	ID string

	mu    sync.Mutex
	email string
}

func (s *Session) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email
}

func (s *Session) SetEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
}

// Manager issues HMAC-signed session cookies and keeps the per-session
// state registry. Sessions live only in memory, like the carts they key.
type Manager struct {
	secret []byte

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(secret string) *Manager {
	return &Manager{
		secret:   []byte(secret),
		sessions: make(map[string]*Session),
	}
}

// Ensure returns the request's session, creating one (and setting the
// cookie) if the request carries none or a tampered one.
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(CookieName); err == nil {
		if id, ok := m.verify(c.Value); ok {
			if s := m.lookup(id); s != nil {
				return s
			}
			// Known-good signature but unknown id (restart): rebuild it.
			return m.register(w, id)
		}
	}
	return m.register(w, uuid.NewString())
}

// Destroy drops a session and its server-side state.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *Manager) lookup(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) register(w http.ResponseWriter, id string) *Session {
	s := &Session{ID: id}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    m.sign(id),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(value string) (string, bool) {
	idx := strings.LastIndexByte(value, '.')
	if idx <= 0 {
		return "", false
	}
	id := value[:idx]
	if !hmac.Equal([]byte(m.sign(id)), []byte(value)) {
		return "", false
	}
	return id, true
}

package remote

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the auth token handed out by register or login.
// An expired token reads as no token.
type Session struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

func NewSession(token string) *Session {
	return &Session{token: token, now: time.Now}
}

func (s *Session) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Session) Clear() { s.Set("") }

// Token returns the current token, or "" when there is none or it has expired.
func (s *Session) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return ""
	}
	if exp, ok := Expiry(token); ok && !s.now().Before(exp) {
		return ""
	}
	return token
}

// Expiry reads the exp claim without verifying the signature; the client
// cannot verify it and only needs to know when to stop sending it.
func Expiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

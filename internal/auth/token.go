package auth

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken means no backend credential has been configured yet.
var ErrNoToken = errors.New("backend token not set")

// TokenStore holds the opaque bearer token used against the attendance backend.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore starts with the given token, which may be empty.
func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: strings.TrimSpace(token)}
}

// LoadToken prefers the inline value and falls back to reading file.
func LoadToken(value, file string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	if file == "" {
		return "", nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Set replaces the token.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

// Token returns the current token. An expired JWT is still returned so the
// backend has the final say; it is only logged.
func (s *TokenStore) Token() (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return "", ErrNoToken
	}
	if exp, ok := Expiry(token); ok && time.Now().After(exp) {
		log.Printf("backend token expired at %s", exp.Format(time.RFC3339))
	}
	return token, nil
}

// Expiry returns the exp claim of token when it is a JWT. The signature is
// not checked; the station does not hold the backend's key.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Status reports whether a token is set and, for JWTs, when it expires.
func (s *TokenStore) Status() (set bool, expiresAt *time.Time) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return false, nil
	}
	if exp, ok := Expiry(token); ok {
		return true, &exp
	}
	return true, nil
}

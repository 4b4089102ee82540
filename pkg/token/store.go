// Package token implements the login credential handoff. A successful PIN
// verification mints a short-lived, single-use token on the streaming
// channel; the page-serving layer redeems it exactly once to bind a
// session. The two layers share no mutable session state, only this table.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/faceteller/faceteller/pkg/logging"
)

// valueBytes is the entropy of a token value (hex-encoded to 64 chars).
const valueBytes = 32

// Token is a single-use login credential.
type Token struct {
	Value     string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ErrInvalidToken is returned when the token is unknown or already redeemed.
var ErrInvalidToken = errors.New("invalid or already redeemed token")

// ErrTokenExpired is returned when the token exists but has expired.
var ErrTokenExpired = errors.New("token expired")

// Store is a process-wide table of outstanding login tokens.
// Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]Token
	now    func() time.Time
}

// NewStore creates a token store with the given time-to-live.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:    ttl,
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

// Issue mints a token for a verified user.
func (s *Store) Issue(username string) (Token, error) {
	buf := make([]byte, valueBytes)
	if _, err := rand.Read(buf); err != nil {
		return Token{}, err
	}

	now := s.now()
	tok := Token{
		Value:     hex.EncodeToString(buf),
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.tokens[tok.Value] = tok
	s.mu.Unlock()

	logging.Component("token").WithFields(logging.Fields{
		"user":    username,
		"expires": tok.ExpiresAt.Format(time.RFC3339),
	}).Info("login token issued")
	return tok, nil
}

// Redeem consumes a token exactly once, returning the bound username.
// Unknown and expired tokens fail with distinct errors; either way the
// entry is gone afterwards.
func (s *Store) Redeem(value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[value]
	if !ok {
		return "", ErrInvalidToken
	}
	delete(s.tokens, value)

	if s.now().After(tok.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return tok.Username, nil
}

// Sweep drops expired entries and returns how many were removed. Expiry is
// already enforced lazily at redemption; the sweep just bounds the table.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for value, tok := range s.tokens {
		if now.After(tok.ExpiresAt) {
			delete(s.tokens, value)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

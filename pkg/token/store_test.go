package token

import (
	"errors"
	"testing"
	"time"
)

// fixedClock lets tests move time manually.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(ttl time.Duration) (*Store, *fixedClock) {
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	s := NewStore(ttl)
	s.now = clock.Now
	return s, clock
}

func TestIssueAndRedeem(t *testing.T) {
	s, _ := newTestStore(30 * time.Second)

	tok, err := s.Issue("alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(tok.Value) != valueBytes*2 {
		t.Errorf("expected %d-char hex token, got %d", valueBytes*2, len(tok.Value))
	}
	if tok.ExpiresAt.Sub(tok.IssuedAt) != 30*time.Second {
		t.Errorf("expiry should be issuedAt + ttl")
	}

	user, err := s.Redeem(tok.Value)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if user != "alice" {
		t.Errorf("expected alice, got %s", user)
	}
}

func TestRedeem_ExactlyOnce(t *testing.T) {
	s, _ := newTestStore(30 * time.Second)

	tok, _ := s.Issue("alice")
	if _, err := s.Redeem(tok.Value); err != nil {
		t.Fatalf("first redemption should succeed: %v", err)
	}
	if _, err := s.Redeem(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second redemption should fail with ErrInvalidToken, got %v", err)
	}
}

func TestRedeem_Unknown(t *testing.T) {
	s, _ := newTestStore(30 * time.Second)

	if _, err := s.Redeem("deadbeef"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRedeem_Expired(t *testing.T) {
	s, clock := newTestStore(30 * time.Second)

	tok, _ := s.Issue("alice")
	clock.Advance(31 * time.Second)

	if _, err := s.Redeem(tok.Value); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	// The expired entry is gone: a retry reads as invalid, not expired.
	if _, err := s.Redeem(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token should be removed on redemption, got %v", err)
	}
}

func TestTokenValuesUnique(t *testing.T) {
	s, _ := newTestStore(30 * time.Second)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := s.Issue("alice")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if seen[tok.Value] {
			t.Fatal("duplicate token value issued")
		}
		seen[tok.Value] = true
	}
}

func TestSweep(t *testing.T) {
	s, clock := newTestStore(30 * time.Second)

	s.Issue("alice")
	s.Issue("bob")
	clock.Advance(20 * time.Second)
	fresh, _ := s.Issue("carol")
	clock.Advance(15 * time.Second) // alice/bob expired, carol not

	if removed := s.Sweep(); removed != 2 {
		t.Errorf("expected 2 swept tokens, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 outstanding token, got %d", s.Len())
	}
	if _, err := s.Redeem(fresh.Value); err != nil {
		t.Errorf("unexpired token should survive the sweep: %v", err)
	}
}

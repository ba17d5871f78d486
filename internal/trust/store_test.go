package trust

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trust.db")
	s, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/trust"); err == nil {
		t.Fatal("expected Open to reject an unsupported DSN scheme")
	}
}

func TestRevocationRoundTrip(t *testing.T) {
	s := openTestStore(t)

	revoked, err := s.IsRevoked("deadbeef")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatal("serial should not be revoked before MarkRevoked")
	}

	if err := s.MarkRevoked("deadbeef"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}

	revoked, err = s.IsRevoked("deadbeef")
	if err != nil {
		t.Fatalf("IsRevoked after mark: %v", err)
	}
	if !revoked {
		t.Fatal("expected serial to be revoked after MarkRevoked")
	}
}

func TestRefresherRateLimitsRepeatedCalls(t *testing.T) {
	s := openTestStore(t)
	calls := 0
	r := NewRefresher(s, time.Hour, func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"abc123"}, nil
	})

	if err := r.RefreshCRL(context.Background()); err != nil {
		t.Fatalf("first RefreshCRL: %v", err)
	}
	if err := r.RefreshCRL(context.Background()); err == nil {
		t.Fatal("expected the second immediate RefreshCRL to be rate-limited")
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}

	revoked, err := s.IsRevoked("abc123")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected abc123 to be recorded as revoked by the first refresh")
	}
}

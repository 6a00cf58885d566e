package storage

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestSealerRoundTrip(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	sealed, err := s.Seal("ya29.token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "ya29") || !strings.HasPrefix(sealed, "v1:") {
		t.Fatalf("token not sealed: %q", sealed)
	}
	plain, err := s.Open(sealed)
	if err != nil || plain != "ya29.token" {
		t.Fatalf("Open = %q, %v", plain, err)
	}
	if again, _ := s.Seal("ya29.token"); again == sealed {
		t.Fatal("expected a fresh nonce per seal")
	}
	if _, err := s.Open("plaintext"); err == nil {
		t.Fatal("expected unsealed value to be rejected")
	}
	if empty, err := s.Open(""); err != nil || empty != "" {
		t.Fatal("empty credential should round-trip")
	}
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	if _, err := NewSealer(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected key length error")
	}
}

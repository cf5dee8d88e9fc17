package keyseal

import "testing"

func TestSealRoundtrip(t *testing.T) {
	s, err := New("test-master-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := s.Seal("user-a", "sk-123456")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "sk-123456" {
		t.Fatalf("Seal: plaintext leaked")
	}

	opened, err := s.Open("user-a", sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "sk-123456" {
		t.Fatalf("Open: got %q", opened)
	}
}

func TestSealBoundToUser(t *testing.T) {
	s, err := New("test-master-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sealed, err := s.Seal("user-a", "sk-123456")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.Open("user-b", sealed); err == nil {
		t.Fatalf("Open: expected failure for wrong user")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("New: expected error for empty secret")
	}
}

package contacts

import (
	"context"
	"errors"
	"testing"

	"github.com/keyward/keyward/internal/vault"
)

type failingVault struct{}

func (failingVault) Seal(string) (string, error) { return "", errors.New("vault offline") }
func (failingVault) Open(string) (string, error) { return "", errors.New("vault offline") }

func newTestService(t *testing.T) *Service {
	t.Helper()
	v, err := vault.NewAESVault([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	return NewService(NewMemoryStore(), v)
}

func TestAdd_SealsContact(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	ec, err := s.Add(ctx, "Dana", "dana@example.com", "sibling")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ec.ID == "" {
		t.Error("expected contact ID")
	}
	if ec.SealedContact == "" || ec.SealedContact == "dana@example.com" {
		t.Error("expected sealed contact, not plaintext")
	}
	if ec.Verified {
		t.Error("new contact must start unverified")
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Dana" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestAdd_EmptyContactRejected(t *testing.T) {
	s := newTestService(t)

	_, err := s.Add(context.Background(), "Dana", "", "")
	if !errors.Is(err, ErrEmptyContact) {
		t.Errorf("expected ErrEmptyContact, got %v", err)
	}
}

func TestAdd_VaultFailureFailsOperation(t *testing.T) {
	s := NewService(NewMemoryStore(), failingVault{})

	_, err := s.Add(context.Background(), "Dana", "dana@example.com", "")
	if err == nil {
		t.Fatal("expected error when sealing fails")
	}

	list, _ := s.List(context.Background())
	if len(list) != 0 {
		t.Error("no contact may be stored when sealing fails")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestService(t)

	_, err := s.Get(context.Background(), "ec_missing")
	if !errors.Is(err, ErrContactNotFound) {
		t.Errorf("expected ErrContactNotFound, got %v", err)
	}
}

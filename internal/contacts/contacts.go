// Package contacts manages emergency contacts for wallet recovery.
//
// Emergency contacts are informational escalation targets, independent of
// the guardian set: they receive no approval rights, only reachability for
// a human to intervene. Reach information is vault-sealed like guardian
// contacts.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyward/keyward/internal/idgen"
	"github.com/keyward/keyward/internal/validation"
	"github.com/keyward/keyward/internal/vault"
)

var (
	ErrContactNotFound = errors.New("emergency contact not found")
	ErrEmptyContact    = errors.New("contact reach information is required")
)

// EmergencyContact is an escalation contact, independent of the guardian set.
type EmergencyContact struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SealedContact string    `json:"-"`
	Relationship  string    `json:"relationship,omitempty"`
	AddedAt       time.Time `json:"addedAt"`
	Verified      bool      `json:"verified"`
}

// Store persists emergency contacts.
type Store interface {
	Create(ctx context.Context, c *EmergencyContact) error
	Get(ctx context.Context, id string) (*EmergencyContact, error)
	List(ctx context.Context) ([]*EmergencyContact, error)
}

// Service implements emergency contact management.
type Service struct {
	store Store
	vault vault.Vault
}

// NewService creates an emergency contact service.
func NewService(store Store, v vault.Vault) *Service {
	return &Service{store: store, vault: v}
}

// Add registers an emergency contact. Sealing the reach information is
// mandatory: a vault failure fails the whole operation.
func (s *Service) Add(ctx context.Context, name, contact, relationship string) (*EmergencyContact, error) {
	if contact == "" {
		return nil, ErrEmptyContact
	}

	sealed, err := s.vault.Seal(contact)
	if err != nil {
		return nil, fmt.Errorf("seal emergency contact: %w", err)
	}

	ec := &EmergencyContact{
		ID:            idgen.WithPrefix("ec_"),
		Name:          validation.SanitizeString(name, 200),
		SealedContact: sealed,
		Relationship:  validation.SanitizeString(relationship, 100),
		AddedAt:       time.Now(),
	}

	if err := s.store.Create(ctx, ec); err != nil {
		return nil, err
	}
	return ec, nil
}

// Get returns one emergency contact by ID.
func (s *Service) Get(ctx context.Context, id string) (*EmergencyContact, error) {
	return s.store.Get(ctx, id)
}

// List returns all emergency contacts.
func (s *Service) List(ctx context.Context) ([]*EmergencyContact, error) {
	return s.store.List(ctx)
}

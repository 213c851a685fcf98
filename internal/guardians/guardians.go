// Package guardians manages the trusted parties who can approve wallet
// recovery.
//
// A guardian enters the set PENDING and unverified, becomes ACTIVE only
// through explicit verification, and is never deleted: removal marks the
// record REMOVED and keeps it for audit. Only ACTIVE guardians count
// toward the approval threshold.
package guardians

import (
	"context"
	"errors"
	"time"
)

var (
	ErrGuardianNotFound  = errors.New("guardian not found")
	ErrDuplicateGuardian = errors.New("guardian identity already registered")
	ErrCapacityExceeded  = errors.New("guardian capacity exceeded")
	ErrBelowMinimum      = errors.New("removal would drop active guardians below the minimum")
	ErrInvalidIdentity   = errors.New("invalid guardian identity")
	ErrInvalidStatus     = errors.New("invalid guardian status for this operation")
	ErrInvalidThreshold  = errors.New("threshold out of range")
)

// Status represents the lifecycle state of a guardian.
type Status string

const (
	StatusPending   Status = "pending"   // Added, not yet verified
	StatusActive    Status = "active"    // Verified, counts toward threshold
	StatusSuspended Status = "suspended" // Temporarily excluded
	StatusRemoved   Status = "removed"   // Retained for audit only
)

// Default registry limits.
const (
	DefaultMinGuardians = 3
	DefaultMaxGuardians = 10
)

// Guardian is a trusted party registered for wallet recovery.
type Guardian struct {
	Identity      string     `json:"identity"`
	DisplayName   string     `json:"displayName,omitempty"`
	SealedContact string     `json:"-"` // vault-sealed reach info, never serialized out
	AddedAt       time.Time  `json:"addedAt"`
	Verified      bool       `json:"verified"`
	Status        Status     `json:"status"`
	LastActiveAt  *time.Time `json:"lastActiveAt,omitempty"`
}

// IsActive reports whether the guardian counts toward threshold logic.
func (g *Guardian) IsActive() bool {
	return g.Status == StatusActive
}

// Limits bound the size of the guardian set.
type Limits struct {
	MinGuardians int
	MaxGuardians int
}

// DefaultLimits returns the standard 3..10 guardian bounds.
func DefaultLimits() Limits {
	return Limits{MinGuardians: DefaultMinGuardians, MaxGuardians: DefaultMaxGuardians}
}

// Store persists guardian records. Identity is globally unique across the
// full history, including removed guardians.
type Store interface {
	Create(ctx context.Context, g *Guardian) error
	Get(ctx context.Context, identity string) (*Guardian, error)
	Update(ctx context.Context, g *Guardian) error
	List(ctx context.Context) ([]*Guardian, error)
}

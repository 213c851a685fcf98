package guardians

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/traces"
	"github.com/keyward/keyward/internal/validation"
	"github.com/keyward/keyward/internal/vault"
)

// Registry implements guardian set management and threshold bookkeeping.
type Registry struct {
	store     Store
	vault     vault.Vault
	bus       *events.Bus
	limits    Limits
	mu        sync.Mutex // serializes mutations and threshold recomputes
	threshold int
}

// NewRegistry creates a guardian registry. The vault is mandatory: contact
// details are sealed on write and never stored in plaintext.
func NewRegistry(store Store, v vault.Vault, threshold int, limits Limits) (*Registry, error) {
	if limits.MinGuardians <= 0 {
		limits.MinGuardians = DefaultMinGuardians
	}
	if limits.MaxGuardians <= 0 {
		limits.MaxGuardians = DefaultMaxGuardians
	}
	if limits.MinGuardians > limits.MaxGuardians {
		return nil, fmt.Errorf("%w: min %d exceeds max %d", ErrInvalidThreshold, limits.MinGuardians, limits.MaxGuardians)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}
	return &Registry{
		store:     store,
		vault:     v,
		limits:    limits,
		threshold: threshold,
	}, nil
}

// WithBus attaches an event bus for lifecycle events.
func (r *Registry) WithBus(bus *events.Bus) *Registry {
	r.bus = bus
	return r
}

// Threshold returns the current approval threshold.
func (r *Registry) Threshold() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// SetThreshold updates the approval threshold. It must stay within
// 1..activeGuardianCount.
func (r *Registry) SetThreshold(ctx context.Context, threshold int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.activeCount(ctx)
	if err != nil {
		return err
	}
	if threshold < 1 || threshold > active {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidThreshold, threshold, active)
	}
	r.threshold = threshold
	return nil
}

// Limits returns the configured guardian set bounds.
func (r *Registry) Limits() Limits {
	return r.limits
}

// AddGuardian registers a new guardian in PENDING status. The contact, if
// given, is sealed through the vault before storage; a sealing failure
// fails the whole operation.
func (r *Registry) AddGuardian(ctx context.Context, identity, displayName, contact string) (*Guardian, error) {
	if !validation.IsValidIdentity(identity) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	identity = validation.NormalizeIdentity(identity)

	ctx, span := traces.StartSpan(ctx, "guardians.AddGuardian",
		traces.Guardian(identity),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Identity is unique across history, removed guardians included.
	if _, err := r.store.Get(ctx, identity); err == nil {
		return nil, ErrDuplicateGuardian
	}

	current, err := r.countNotRemoved(ctx)
	if err != nil {
		return nil, err
	}
	if current >= r.limits.MaxGuardians {
		return nil, fmt.Errorf("%w: %d guardians registered, max %d", ErrCapacityExceeded, current, r.limits.MaxGuardians)
	}

	var sealed string
	if contact != "" {
		sealed, err = r.vault.Seal(contact)
		if err != nil {
			return nil, fmt.Errorf("seal guardian contact: %w", err)
		}
	}

	g := &Guardian{
		Identity:      identity,
		DisplayName:   validation.SanitizeString(displayName, 200),
		SealedContact: sealed,
		AddedAt:       time.Now(),
		Verified:      false,
		Status:        StatusPending,
	}

	if err := r.store.Create(ctx, g); err != nil {
		return nil, err
	}

	r.bus.Publish(events.KindGuardianAdded, map[string]interface{}{
		"identity":    g.Identity,
		"displayName": g.DisplayName,
		"status":      string(g.Status),
	})

	return g, nil
}

// RemoveGuardian marks a guardian REMOVED. The record is retained for
// audit. Removing an ACTIVE guardian that would leave fewer than
// minGuardians active fails with ErrBelowMinimum; when the threshold now
// exceeds the remaining active count, it is recomputed as
// max(1, ceil(0.6 × remainingActive)).
func (r *Registry) RemoveGuardian(ctx context.Context, identity string) error {
	identity = validation.NormalizeIdentity(identity)

	ctx, span := traces.StartSpan(ctx, "guardians.RemoveGuardian",
		traces.Guardian(identity),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.store.Get(ctx, identity)
	if err != nil {
		return err
	}
	if g.Status == StatusRemoved {
		return fmt.Errorf("%w: guardian already removed", ErrInvalidStatus)
	}

	active, err := r.activeCount(ctx)
	if err != nil {
		return err
	}
	wasActive := g.IsActive()
	if wasActive && active-1 < r.limits.MinGuardians {
		return fmt.Errorf("%w: %d active, minimum %d", ErrBelowMinimum, active, r.limits.MinGuardians)
	}

	g.Status = StatusRemoved
	if err := r.store.Update(ctx, g); err != nil {
		return err
	}

	remaining := active
	if wasActive {
		remaining = active - 1
	}
	if r.threshold > remaining {
		r.threshold = recomputeThreshold(remaining)
	}

	r.bus.Publish(events.KindGuardianRemoved, map[string]interface{}{
		"identity":  g.Identity,
		"threshold": r.threshold,
	})

	return nil
}

// VerifyGuardian transitions a PENDING guardian to ACTIVE.
func (r *Registry) VerifyGuardian(ctx context.Context, identity string) error {
	identity = validation.NormalizeIdentity(identity)

	ctx, span := traces.StartSpan(ctx, "guardians.VerifyGuardian",
		traces.Guardian(identity),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.store.Get(ctx, identity)
	if err != nil {
		return err
	}
	if g.Status != StatusPending {
		return fmt.Errorf("%w: guardian is %s, expected pending", ErrInvalidStatus, g.Status)
	}

	now := time.Now()
	g.Status = StatusActive
	g.Verified = true
	g.LastActiveAt = &now

	if err := r.store.Update(ctx, g); err != nil {
		return err
	}

	r.bus.Publish(events.KindGuardianVerified, map[string]interface{}{
		"identity": g.Identity,
	})

	return nil
}

// SuspendGuardian temporarily excludes an ACTIVE guardian from threshold
// logic and approvals.
func (r *Registry) SuspendGuardian(ctx context.Context, identity string) error {
	identity = validation.NormalizeIdentity(identity)

	ctx, span := traces.StartSpan(ctx, "guardians.SuspendGuardian",
		traces.Guardian(identity),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.store.Get(ctx, identity)
	if err != nil {
		return err
	}
	if g.Status != StatusActive {
		return fmt.Errorf("%w: guardian is %s, expected active", ErrInvalidStatus, g.Status)
	}

	active, err := r.activeCount(ctx)
	if err != nil {
		return err
	}
	if active-1 < r.limits.MinGuardians {
		return fmt.Errorf("%w: %d active, minimum %d", ErrBelowMinimum, active, r.limits.MinGuardians)
	}

	g.Status = StatusSuspended
	if err := r.store.Update(ctx, g); err != nil {
		return err
	}

	if r.threshold > active-1 {
		r.threshold = recomputeThreshold(active - 1)
	}

	r.bus.Publish(events.KindGuardianSuspended, map[string]interface{}{
		"identity":  g.Identity,
		"threshold": r.threshold,
	})

	return nil
}

// ReinstateGuardian returns a SUSPENDED guardian to ACTIVE.
func (r *Registry) ReinstateGuardian(ctx context.Context, identity string) error {
	identity = validation.NormalizeIdentity(identity)

	ctx, span := traces.StartSpan(ctx, "guardians.ReinstateGuardian",
		traces.Guardian(identity),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.store.Get(ctx, identity)
	if err != nil {
		return err
	}
	if g.Status != StatusSuspended {
		return fmt.Errorf("%w: guardian is %s, expected suspended", ErrInvalidStatus, g.Status)
	}

	g.Status = StatusActive
	if err := r.store.Update(ctx, g); err != nil {
		return err
	}

	r.bus.Publish(events.KindGuardianReinstated, map[string]interface{}{
		"identity": g.Identity,
	})

	return nil
}

// MarkActive stamps a guardian's last activity time. Called when a
// guardian approves a recovery request.
func (r *Registry) MarkActive(ctx context.Context, identity string) error {
	identity = validation.NormalizeIdentity(identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.store.Get(ctx, identity)
	if err != nil {
		return err
	}
	now := time.Now()
	g.LastActiveAt = &now
	return r.store.Update(ctx, g)
}

// Guardian returns one guardian by identity.
func (r *Registry) Guardian(ctx context.Context, identity string) (*Guardian, error) {
	return r.store.Get(ctx, validation.NormalizeIdentity(identity))
}

// ListGuardians returns all guardians, removed ones included.
func (r *Registry) ListGuardians(ctx context.Context) ([]*Guardian, error) {
	return r.store.List(ctx)
}

// ActiveGuardians returns the guardians currently counting toward the
// threshold, used for approval-request fan-out.
func (r *Registry) ActiveGuardians(ctx context.Context) ([]*Guardian, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var active []*Guardian
	for _, g := range all {
		if g.IsActive() {
			active = append(active, g)
		}
	}
	return active, nil
}

// ActiveGuardianCount returns the number of ACTIVE guardians.
func (r *Registry) ActiveGuardianCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCount(ctx)
}

// ActiveVerifiedCount returns the number of ACTIVE guardians that have
// completed verification. Used by the fraud heuristic.
func (r *Registry) ActiveVerifiedCount(ctx context.Context) (int, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, g := range all {
		if g.IsActive() && g.Verified {
			count++
		}
	}
	return count, nil
}

func (r *Registry) activeCount(ctx context.Context) (int, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, g := range all {
		if g.IsActive() {
			count++
		}
	}
	return count, nil
}

func (r *Registry) countNotRemoved(ctx context.Context) (int, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, g := range all {
		if g.Status != StatusRemoved {
			count++
		}
	}
	return count, nil
}

func recomputeThreshold(remainingActive int) int {
	t := int(math.Ceil(0.6 * float64(remainingActive)))
	if t < 1 {
		t = 1
	}
	return t
}

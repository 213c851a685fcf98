// Package recovery implements the guardian-threshold, time-locked wallet
// recovery lifecycle.
//
// Flow:
//  1. Owner (or a delegate) initiates → request PENDING, guardians notified
//  2. Guardians submit signed approvals → at threshold the request flips to
//     APPROVED and the time lock starts
//  3. After the time lock elapses the owner completes → on-chain transfer,
//     request EXECUTED
//  4. The owner may cancel any PENDING or APPROVED request inside the window
//  5. PENDING requests that outlive their execution deadline are swept to
//     EXPIRED so the wallet is never wedged
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRequestNotFound           = errors.New("recovery request not found")
	ErrInvalidState              = errors.New("invalid recovery status for this operation")
	ErrInvalidIdentity           = errors.New("invalid public key identity")
	ErrTestingDisabled           = errors.New("recovery testing is disabled")
	ErrActiveRequestExists       = errors.New("an active recovery request already exists for this wallet")
	ErrUnknownOrInactiveGuardian = errors.New("guardian is unknown or not active")
	ErrDuplicateApproval         = errors.New("guardian has already approved this request")
	ErrInvalidProof              = errors.New("approval proof verification failed")
	ErrAlreadyExecuted           = errors.New("recovery request already executed")
	ErrAlreadyCancelled          = errors.New("recovery request already cancelled")
	ErrTimeLockNotExpired        = errors.New("time lock has not expired")
	ErrInsufficientApprovals     = errors.New("recorded approvals are below the threshold")
	ErrInvalidTimeLock           = errors.New("time lock duration must be at least one hour")
)

// VerificationFailedError rejects an initiation that tripped the fraud
// heuristic. Carries the structured detail callers present to end users.
type VerificationFailedError struct {
	Reason     string   `json:"reason"`
	RiskScore  int      `json:"riskScore"`
	Indicators []string `json:"indicators"`
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("recovery verification failed: %s (risk score %d)", e.Reason, e.RiskScore)
}

// Status represents the lifecycle state of a recovery request.
type Status string

const (
	StatusPending   Status = "PENDING"   // Initiated, collecting approvals
	StatusApproved  Status = "APPROVED"  // Threshold reached, time lock running
	StatusExecuted  Status = "EXECUTED"  // Ownership transferred (or test completed)
	StatusCancelled Status = "CANCELLED" // Cancelled before execution
	StatusExpired   Status = "EXPIRED"   // Never reached threshold before the deadline
)

// MinTimeLock is the smallest permitted time-lock duration.
const MinTimeLock = time.Hour

// WarningLead is how long before the execution deadline the time-lock
// warning fires.
const WarningLead = 24 * time.Hour

// Request is a single attempt to transfer wallet ownership.
type Request struct {
	ID               string      `json:"id"`
	WalletIdentity   string      `json:"walletIdentity"`
	ProposedNewOwner string      `json:"proposedNewOwner"`
	InitiatedAt      time.Time   `json:"initiatedAt"`
	ExecutesAt       time.Time   `json:"executesAt"`
	Approvals        []*Approval `json:"approvals"`
	Status           Status      `json:"status"`
	CancelledAt      *time.Time  `json:"cancelledAt,omitempty"`
	CancelledBy      string      `json:"cancelledBy,omitempty"`
	CompletedAt      *time.Time  `json:"completedAt,omitempty"`
	TransactionHash  string      `json:"transactionHash,omitempty"`
	TestMode         bool        `json:"testMode"`
	RiskScore        int         `json:"riskScore"`
	FraudIndicators  []string    `json:"fraudIndicators,omitempty"`
}

// IsTerminal returns true if the request is in a final state.
func (r *Request) IsTerminal() bool {
	switch r.Status {
	case StatusExecuted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Active reports whether the request blocks new initiations for its wallet.
func (r *Request) Active() bool {
	return r.Status == StatusPending || r.Status == StatusApproved
}

// HasApproval reports whether the guardian already approved this request.
func (r *Request) HasApproval(guardianIdentity string) bool {
	for _, a := range r.Approvals {
		if strings.EqualFold(a.GuardianIdentity, guardianIdentity) {
			return true
		}
	}
	return false
}

// Approval records one guardian's signed assent to a request.
// At most one approval exists per (request, guardian) pair.
type Approval struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"requestId"`
	GuardianIdentity string    `json:"guardianIdentity"`
	ApprovedAt       time.Time `json:"approvedAt"`
	Proof            string    `json:"proof,omitempty"`
	Verified         bool      `json:"verified"`
}

// Store persists recovery requests and their approvals.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, req *Request) error
	AddApproval(ctx context.Context, approval *Approval) error
	// ActiveByWallet returns the wallet's PENDING or APPROVED request,
	// or ErrRequestNotFound when none exists.
	ActiveByWallet(ctx context.Context, walletIdentity string) (*Request, error)
	ListByWallet(ctx context.Context, walletIdentity string, limit int) ([]*Request, error)
	List(ctx context.Context, limit int) ([]*Request, error)
	ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Request, error)
}

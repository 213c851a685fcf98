// Package notify routes recovery notifications to delivery channels.
//
// Notifications are advisory, never transactional: a delivery failure is
// logged and counted but must not fail the state-machine operation that
// produced it. Notifications are ephemeral — nothing here is persisted
// beyond the dispatch attempt.
package notify

import (
	"context"
	"time"
)

// Type identifies what a notification is about.
type Type string

const (
	TypeGuardianApprovalRequest Type = "GUARDIAN_APPROVAL_REQUEST"
	TypeRecoveryInitiated       Type = "RECOVERY_INITIATED"
	TypeThresholdReached        Type = "THRESHOLD_REACHED"
	TypeTimeLockWarning         Type = "TIME_LOCK_WARNING"
	TypeRecoveryCancelled       Type = "RECOVERY_CANCELLED"
	TypeRecoveryExecuted        Type = "RECOVERY_EXECUTED"
)

// Notification is a single delivery attempt.
type Notification struct {
	Type              Type              `json:"type"`
	RecoveryRequestID string            `json:"recoveryRequestId"`
	Recipient         string            `json:"recipient"`
	Message           string            `json:"message"`
	Timestamp         time.Time         `json:"timestamp"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Subject returns a short human-readable title for the notification type.
func (n Notification) Subject() string {
	switch n.Type {
	case TypeGuardianApprovalRequest:
		return "Wallet recovery: your approval is requested"
	case TypeRecoveryInitiated:
		return "Wallet recovery initiated"
	case TypeThresholdReached:
		return "Wallet recovery approved by guardians"
	case TypeTimeLockWarning:
		return "Wallet recovery executes soon"
	case TypeRecoveryCancelled:
		return "Wallet recovery cancelled"
	case TypeRecoveryExecuted:
		return "Wallet ownership transferred"
	default:
		return "Wallet recovery notification"
	}
}

// EmailSender delivers email notifications. Injected by the host application.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers SMS notifications.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// PushSender delivers push notifications.
type PushSender interface {
	SendPush(ctx context.Context, to, title, body string) error
}

package recovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/idgen"
)

// Action identifies what happened to a recovery request.
type Action string

const (
	ActionInitiated        Action = "INITIATED"
	ActionGuardianApproved Action = "GUARDIAN_APPROVED"
	ActionThresholdReached Action = "THRESHOLD_REACHED"
	ActionTimeLockStarted  Action = "TIME_LOCK_STARTED"
	ActionCancelled        Action = "CANCELLED"
	ActionExecuted         Action = "EXECUTED"
	ActionTestCompleted    Action = "TEST_COMPLETED"
	ActionExpired          Action = "EXPIRED"
)

// AuditEntry is a single append-only record of a recovery action.
// Entries are never mutated or deleted, and never read back for decisions.
type AuditEntry struct {
	ID        string            `json:"id"`
	RequestID string            `json:"requestId"`
	Timestamp time.Time         `json:"timestamp"`
	Action    Action            `json:"action"`
	Actor     string            `json:"actor"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditStore persists audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*AuditEntry, error)
}

// AuditLogger appends entries and publishes action-logged events. Append
// failures are logged rather than propagated: the audit log is derived
// state and must not fail the originating operation.
type AuditLogger struct {
	store  AuditStore
	bus    *events.Bus
	logger *slog.Logger
}

// NewAuditLogger creates an audit logger. bus and logger may be nil.
func NewAuditLogger(store AuditStore, bus *events.Bus, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{store: store, bus: bus, logger: logger}
}

// Record appends one audit entry.
func (l *AuditLogger) Record(ctx context.Context, requestID string, action Action, actor string, details map[string]string) {
	entry := &AuditEntry{
		ID:        idgen.WithPrefix("aud_"),
		RequestID: requestID,
		Timestamp: time.Now(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	}
	if err := l.store.Append(ctx, entry); err != nil {
		l.logger.Warn("failed to append audit entry",
			"requestId", requestID, "action", action, "error", err)
		return
	}
	l.bus.Publish(events.KindActionLogged, map[string]interface{}{
		"auditId":   entry.ID,
		"requestId": requestID,
		"action":    string(action),
		"actor":     actor,
	})
}

// Trail returns the entries recorded for a request, oldest first.
func (l *AuditLogger) Trail(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	return l.store.ListByRequest(ctx, requestID)
}

// MemoryAuditStore is an in-memory append-only audit store.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryAuditStore) ListByRequest(_ context.Context, requestID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

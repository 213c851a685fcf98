package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyward/keyward/internal/chain"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/fraud"
	"github.com/keyward/keyward/internal/guardians"
	"github.com/keyward/keyward/internal/idgen"
	"github.com/keyward/keyward/internal/notify"
	"github.com/keyward/keyward/internal/syncutil"
	"github.com/keyward/keyward/internal/traces"
	"github.com/keyward/keyward/internal/validation"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyward",
		Subsystem: "recovery",
		Name:      "requests_total",
		Help:      "Recovery requests by terminal or entered status.",
	}, []string{"status"})

	approvalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keyward",
		Subsystem: "recovery",
		Name:      "approvals_total",
		Help:      "Guardian approvals recorded.",
	})

	rejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keyward",
		Subsystem: "recovery",
		Name:      "fraud_rejections_total",
		Help:      "Initiations rejected by the fraud heuristic.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, approvalsTotal, rejectionsTotal)
}

// CompleteResult reports the outcome of a completed recovery.
type CompleteResult struct {
	TransactionHash string `json:"transactionHash,omitempty"`
}

// TestResult reports what a recovery test exercised.
type TestResult struct {
	RequestID         string   `json:"requestId,omitempty"`
	GuardiansNotified int      `json:"guardiansNotified"`
	ApprovalsReceived int      `json:"approvalsReceived"`
	ThresholdReached  bool     `json:"thresholdReached"`
	TimeLockSimulated bool     `json:"timeLockSimulated"`
	Errors            []string `json:"errors,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// Service implements the recovery request state machine.
//
// All mutations run under a per-wallet lock: concurrent approvals cannot
// race past the threshold flip, and cancel/complete are mutually
// exclusive per request. Notifications are dispatched after the lock is
// released because they are advisory, not part of the consistency
// boundary.
type Service struct {
	store      Store
	registry   *guardians.Registry
	ledger     chain.OwnershipTransferor
	audit      *AuditLogger
	bus        *events.Bus
	dispatcher *notify.Dispatcher
	scheduler  *Scheduler
	logger     *slog.Logger

	locks syncutil.ShardedMutex

	timeLock       time.Duration
	testingEnabled bool
}

// Option configures a Service.
type Option func(*Service)

// WithBus attaches the event bus.
func WithBus(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithDispatcher attaches the notification dispatcher.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTestingEnabled allows test-mode initiations.
func WithTestingEnabled(enabled bool) Option {
	return func(s *Service) { s.testingEnabled = enabled }
}

// NewService creates the recovery state machine.
func NewService(store Store, registry *guardians.Registry, ledger chain.OwnershipTransferor, audit *AuditLogger, timeLock time.Duration, opts ...Option) (*Service, error) {
	if timeLock < MinTimeLock {
		return nil, ErrInvalidTimeLock
	}
	s := &Service{
		store:    store,
		registry: registry,
		ledger:   ledger,
		audit:    audit,
		timeLock: timeLock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scheduler = NewScheduler(s.fireTimeLockWarning, s.logger)
	return s, nil
}

// Scheduler exposes the time-lock scheduler, for shutdown wiring.
func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

// Initiate starts a new recovery request for a wallet.
func (s *Service) Initiate(ctx context.Context, walletIdentity, proposedNewOwner string, testMode bool) (*Request, error) {
	if !validation.IsValidIdentity(walletIdentity) || !validation.IsValidIdentity(proposedNewOwner) {
		return nil, ErrInvalidIdentity
	}
	if testMode && !s.testingEnabled {
		return nil, ErrTestingDisabled
	}

	wallet := validation.NormalizeIdentity(walletIdentity)
	newOwner := validation.NormalizeIdentity(proposedNewOwner)

	ctx, span := traces.StartSpan(ctx, "recovery.Initiate",
		traces.Wallet(wallet),
	)
	defer span.End()

	unlock := s.locks.Lock(wallet)

	req, err := s.initiateLocked(ctx, wallet, newOwner, testMode)
	unlock()
	if err != nil {
		return nil, err
	}

	s.notifyInitiated(ctx, req)
	return req, nil
}

func (s *Service) initiateLocked(ctx context.Context, wallet, newOwner string, testMode bool) (*Request, error) {
	history, err := s.store.ListByWallet(ctx, wallet, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load request history: %w", err)
	}
	initiations := make([]time.Time, 0, len(history))
	for _, prior := range history {
		initiations = append(initiations, prior.InitiatedAt)
	}

	activeVerified, err := s.registry.ActiveVerifiedCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active guardians: %w", err)
	}

	assessment := fraud.Score(fraud.Input{
		WalletIdentity:       wallet,
		ProposedNewOwner:     newOwner,
		RecentInitiations:    initiations,
		ActiveVerifiedGuards: activeVerified,
		Threshold:            s.registry.Threshold(),
	})
	// The heuristic verdict takes precedence over the single-active-request
	// rule: an inadmissible initiation is reported as such even when an
	// active request would also have blocked it.
	if !assessment.Admissible() {
		rejectionsTotal.Inc()
		return nil, &VerificationFailedError{
			Reason:     strings.Join(assessment.Indicators, "; "),
			RiskScore:  assessment.RiskScore,
			Indicators: assessment.Indicators,
		}
	}

	if _, err := s.store.ActiveByWallet(ctx, wallet); err == nil {
		return nil, ErrActiveRequestExists
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("failed to check active requests: %w", err)
	}

	now := time.Now()
	req := &Request{
		ID:               idgen.WithPrefix("rcv_"),
		WalletIdentity:   wallet,
		ProposedNewOwner: newOwner,
		InitiatedAt:      now,
		ExecutesAt:       now.Add(s.timeLock),
		Status:           StatusPending,
		TestMode:         testMode,
		RiskScore:        assessment.RiskScore,
		FraudIndicators:  assessment.Indicators,
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create recovery request: %w", err)
	}

	requestsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.audit.Record(ctx, req.ID, ActionInitiated, wallet, map[string]string{
		"proposedNewOwner": newOwner,
		"executesAt":       req.ExecutesAt.UTC().Format(time.RFC3339),
		"testMode":         fmt.Sprintf("%t", testMode),
	})
	s.bus.Publish(events.KindRecoveryInitiated, map[string]interface{}{
		"requestId":        req.ID,
		"walletIdentity":   wallet,
		"proposedNewOwner": newOwner,
		"executesAt":       req.ExecutesAt,
		"testMode":         testMode,
	})
	return req, nil
}

func (s *Service) notifyInitiated(ctx context.Context, req *Request) {
	if s.dispatcher == nil {
		return
	}
	active, err := s.registry.ActiveGuardians(ctx)
	if err != nil {
		s.logger.Warn("failed to list guardians for notification",
			"requestId", req.ID, "error", err)
		active = nil
	}
	for _, g := range active {
		s.dispatcher.DispatchSealed(ctx, notify.Notification{
			Type:              notify.TypeGuardianApprovalRequest,
			RecoveryRequestID: req.ID,
			Recipient:         g.Identity,
			Message: fmt.Sprintf("A recovery of wallet %s to new owner %s awaits your approval.",
				req.WalletIdentity, req.ProposedNewOwner),
			Timestamp: time.Now(),
			Metadata:  map[string]string{"executesAt": req.ExecutesAt.UTC().Format(time.RFC3339)},
		}, g.SealedContact)
	}
	s.notifyOwner(ctx, req, notify.TypeRecoveryInitiated,
		fmt.Sprintf("Recovery of wallet %s was initiated. If this was not you, cancel request %s.",
			req.WalletIdentity, req.ID))
}

// Approve records a guardian's signed approval of a request.
func (s *Service) Approve(ctx context.Context, requestID, guardianIdentity, proof string) (*Approval, error) {
	ctx, span := traces.StartSpan(ctx, "recovery.Approve",
		traces.RequestID(requestID),
		traces.Guardian(guardianIdentity),
	)
	defer span.End()

	peek, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(peek.WalletIdentity)

	approval, req, thresholdReached, err := s.approveLocked(ctx, requestID, guardianIdentity, proof)
	unlock()
	if err != nil {
		return nil, err
	}

	if thresholdReached {
		s.notifyOwner(ctx, req, notify.TypeThresholdReached,
			fmt.Sprintf("Recovery request %s reached its approval threshold. Execution unlocks at %s.",
				req.ID, req.ExecutesAt.UTC().Format(time.RFC3339)))
	}
	return approval, nil
}

func (s *Service) approveLocked(ctx context.Context, requestID, guardianIdentity, proof string) (*Approval, *Request, bool, error) {
	// Re-read under the wallet lock: the pre-lock read may be stale.
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, nil, false, err
	}
	if req.Status != StatusPending {
		return nil, nil, false, ErrInvalidState
	}

	guardian, err := s.registry.Guardian(ctx, guardianIdentity)
	if err != nil || !guardian.IsActive() {
		return nil, nil, false, ErrUnknownOrInactiveGuardian
	}

	if req.HasApproval(guardian.Identity) {
		return nil, nil, false, ErrDuplicateApproval
	}

	if err := VerifyApprovalProof(req, guardian.Identity, proof); err != nil {
		return nil, nil, false, err
	}

	approval := &Approval{
		ID:               idgen.WithPrefix("apr_"),
		RequestID:        req.ID,
		GuardianIdentity: guardian.Identity,
		ApprovedAt:       time.Now(),
		Proof:            proof,
		Verified:         true,
	}
	if err := s.store.AddApproval(ctx, approval); err != nil {
		return nil, nil, false, err
	}
	req.Approvals = append(req.Approvals, approval)

	if err := s.registry.MarkActive(ctx, guardian.Identity); err != nil {
		s.logger.Warn("failed to stamp guardian activity",
			"guardian", guardian.Identity, "error", err)
	}

	approvalsTotal.Inc()
	s.audit.Record(ctx, req.ID, ActionGuardianApproved, guardian.Identity, map[string]string{
		"approvalId": approval.ID,
		"approvals":  fmt.Sprintf("%d", len(req.Approvals)),
	})
	s.bus.Publish(events.KindGuardianApproved, map[string]interface{}{
		"requestId":        req.ID,
		"guardianIdentity": guardian.Identity,
		"approvals":        len(req.Approvals),
	})

	threshold := s.registry.Threshold()
	if len(req.Approvals) < threshold {
		return approval, req, false, nil
	}

	// Threshold first reached: flip to APPROVED and start the time lock.
	// Later approvals fail the PENDING check above, so the flip and its
	// events happen exactly once.
	req.Status = StatusApproved
	if err := s.store.Update(ctx, req); err != nil {
		return nil, nil, false, fmt.Errorf("failed to mark request approved: %w", err)
	}

	requestsTotal.WithLabelValues(string(StatusApproved)).Inc()
	s.audit.Record(ctx, req.ID, ActionThresholdReached, guardian.Identity, map[string]string{
		"threshold": fmt.Sprintf("%d", threshold),
	})
	s.audit.Record(ctx, req.ID, ActionTimeLockStarted, guardian.Identity, map[string]string{
		"executesAt": req.ExecutesAt.UTC().Format(time.RFC3339),
	})
	s.bus.Publish(events.KindRecoveryApproved, map[string]interface{}{
		"requestId":      req.ID,
		"walletIdentity": req.WalletIdentity,
		"executesAt":     req.ExecutesAt,
	})
	s.scheduler.Arm(req.ID, req.ExecutesAt)
	return approval, req, true, nil
}

// Cancel aborts a PENDING or APPROVED request.
func (s *Service) Cancel(ctx context.Context, requestID, cancelledBy string) error {
	ctx, span := traces.StartSpan(ctx, "recovery.Cancel",
		traces.RequestID(requestID),
	)
	defer span.End()

	peek, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(peek.WalletIdentity)

	req, err := s.cancelLocked(ctx, requestID, cancelledBy)
	unlock()
	if err != nil {
		return err
	}

	s.notifyOwner(ctx, req, notify.TypeRecoveryCancelled,
		fmt.Sprintf("Recovery request %s for wallet %s was cancelled by %s.",
			req.ID, req.WalletIdentity, cancelledBy))
	return nil
}

func (s *Service) cancelLocked(ctx context.Context, requestID, cancelledBy string) (*Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case StatusExecuted:
		return nil, ErrAlreadyExecuted
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusExpired:
		return nil, ErrInvalidState
	}

	now := time.Now()
	req.Status = StatusCancelled
	req.CancelledAt = &now
	req.CancelledBy = strings.ToLower(cancelledBy)
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to cancel recovery request: %w", err)
	}

	s.scheduler.Disarm(req.ID)
	requestsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.audit.Record(ctx, req.ID, ActionCancelled, req.CancelledBy, nil)
	s.bus.Publish(events.KindRecoveryCancelled, map[string]interface{}{
		"requestId":      req.ID,
		"walletIdentity": req.WalletIdentity,
		"cancelledBy":    req.CancelledBy,
	})
	return req, nil
}

// Complete executes an APPROVED request once its time lock has elapsed.
// On ledger failure the request stays APPROVED and may be retried.
func (s *Service) Complete(ctx context.Context, requestID, ownerAuthorization string) (*CompleteResult, error) {
	ctx, span := traces.StartSpan(ctx, "recovery.Complete",
		traces.RequestID(requestID),
	)
	defer span.End()

	peek, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(peek.WalletIdentity)

	result, req, err := s.completeLocked(ctx, requestID, ownerAuthorization)
	unlock()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Wallet(req.WalletIdentity), traces.RecoveryStatus(string(req.Status)))

	if !req.TestMode {
		s.notifyOwner(ctx, req, notify.TypeRecoveryExecuted,
			fmt.Sprintf("Recovery of wallet %s to %s executed. Transaction: %s",
				req.WalletIdentity, req.ProposedNewOwner, result.TransactionHash))
	}
	return result, nil
}

func (s *Service) completeLocked(ctx context.Context, requestID, ownerAuthorization string) (*CompleteResult, *Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status != StatusApproved {
		return nil, nil, ErrInvalidState
	}
	if !req.TestMode && time.Now().Before(req.ExecutesAt) {
		return nil, nil, ErrTimeLockNotExpired
	}
	// Defensive re-check: approvals below threshold must never execute,
	// even if the stored status says APPROVED.
	if len(req.Approvals) < s.registry.Threshold() {
		return nil, nil, ErrInsufficientApprovals
	}

	if req.TestMode {
		now := time.Now()
		req.Status = StatusExecuted
		req.CompletedAt = &now
		if err := s.store.Update(ctx, req); err != nil {
			return nil, nil, fmt.Errorf("failed to complete test recovery: %w", err)
		}
		s.scheduler.Disarm(req.ID)
		requestsTotal.WithLabelValues("test_executed").Inc()
		s.audit.Record(ctx, req.ID, ActionTestCompleted, req.WalletIdentity, nil)
		s.bus.Publish(events.KindRecoveryTestComplete, map[string]interface{}{
			"requestId":      req.ID,
			"walletIdentity": req.WalletIdentity,
		})
		return &CompleteResult{}, req, nil
	}

	// Ledger errors propagate verbatim; the request stays APPROVED so the
	// owner can retry.
	transfer, err := s.ledger.TransferOwnership(ctx, req.WalletIdentity, req.ProposedNewOwner, ownerAuthorization)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	req.Status = StatusExecuted
	req.CompletedAt = &now
	req.TransactionHash = transfer.TxHash
	if err := s.store.Update(ctx, req); err != nil {
		// Ownership already moved on chain. Retry once, then surface for
		// manual resolution rather than pretending the transfer failed.
		if retryErr := s.store.Update(ctx, req); retryErr != nil {
			s.logger.Error("ownership transferred but status update failed",
				"requestId", req.ID, "txHash", transfer.TxHash, "error", retryErr)
			return nil, nil, fmt.Errorf("ownership transferred (tx %s) but request update failed: %w", transfer.TxHash, err)
		}
	}

	s.scheduler.Disarm(req.ID)
	requestsTotal.WithLabelValues(string(StatusExecuted)).Inc()
	s.audit.Record(ctx, req.ID, ActionExecuted, req.WalletIdentity, map[string]string{
		"transactionHash": transfer.TxHash,
		"newOwner":        req.ProposedNewOwner,
	})
	s.bus.Publish(events.KindRecoveryExecuted, map[string]interface{}{
		"requestId":       req.ID,
		"walletIdentity":  req.WalletIdentity,
		"newOwner":        req.ProposedNewOwner,
		"transactionHash": transfer.TxHash,
	})
	return &CompleteResult{TransactionHash: transfer.TxHash}, req, nil
}

// Test runs a recovery drill: it initiates a real test-mode request and
// reports what the flow would exercise. Approvals are not simulated; the
// reported count reflects what guardians actually submitted (zero for a
// fresh drill).
func (s *Service) Test(ctx context.Context, walletIdentity, proposedNewOwner string) (*TestResult, error) {
	if !s.testingEnabled {
		return nil, ErrTestingDisabled
	}

	result := &TestResult{
		TimeLockSimulated: true,
		Warnings: []string{
			"guardian approvals are not simulated; have each guardian approve the test request",
		},
	}

	active, err := s.registry.ActiveGuardians(ctx)
	if err == nil {
		result.GuardiansNotified = len(active)
	}

	req, err := s.Initiate(ctx, walletIdentity, proposedNewOwner, true)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	result.RequestID = req.ID
	result.ApprovalsReceived = len(req.Approvals)
	result.ThresholdReached = req.Status == StatusApproved
	return result, nil
}

// Get returns a recovery request by ID.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListByWallet returns a wallet's requests, newest first. A limit of
// zero or less means no limit.
func (s *Service) ListByWallet(ctx context.Context, walletIdentity string, limit int) ([]*Request, error) {
	return s.store.ListByWallet(ctx, validation.NormalizeIdentity(walletIdentity), limit)
}

// List returns requests across all wallets, newest first. A limit of
// zero or less means no limit.
func (s *Service) List(ctx context.Context, limit int) ([]*Request, error) {
	return s.store.List(ctx, limit)
}

// Audit returns the audit trail for a request.
func (s *Service) Audit(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	if _, err := s.store.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return s.audit.Trail(ctx, requestID)
}

// Statistics computes aggregate recovery metrics across all requests.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	reqs, err := s.store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	stats := ComputeStatistics(reqs)
	return &stats, nil
}

// ExpirePending sweeps PENDING requests past their execution deadline to
// EXPIRED. APPROVED requests never expire; completion stays retryable.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	stale, err := s.store.ListPendingExpired(ctx, time.Now(), 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		if err := s.expireOne(ctx, req.ID, req.WalletIdentity); err != nil {
			s.logger.Warn("failed to expire recovery request",
				"requestId", req.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, requestID, wallet string) error {
	unlock := s.locks.Lock(wallet)
	defer unlock()

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != StatusPending || time.Now().Before(req.ExecutesAt) {
		return nil
	}

	req.Status = StatusExpired
	if err := s.store.Update(ctx, req); err != nil {
		return err
	}

	s.scheduler.Disarm(req.ID)
	requestsTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.audit.Record(ctx, req.ID, ActionExpired, "system", nil)
	s.bus.Publish(events.KindRecoveryExpired, map[string]interface{}{
		"requestId":      req.ID,
		"walletIdentity": req.WalletIdentity,
	})
	return nil
}

// fireTimeLockWarning is the scheduler callback. It re-reads the request
// under the wallet lock so a since-cancelled or executed request never
// produces a warning.
func (s *Service) fireTimeLockWarning(requestID string) {
	ctx := context.Background()

	peek, err := s.store.Get(ctx, requestID)
	if err != nil {
		s.logger.Warn("time-lock warning for unknown request", "requestId", requestID)
		return
	}

	unlock := s.locks.Lock(peek.WalletIdentity)
	req, err := s.store.Get(ctx, requestID)
	unlock()
	if err != nil || req.Status != StatusApproved {
		return
	}

	s.notifyOwner(ctx, req, notify.TypeTimeLockWarning,
		fmt.Sprintf("Recovery request %s for wallet %s becomes executable at %s. Cancel now if this is not expected.",
			req.ID, req.WalletIdentity, req.ExecutesAt.UTC().Format(time.RFC3339)))
}

// notifyOwner addresses the wallet owner by identity. Without a contact
// book for owners, delivery rides the push channel (or the log sink).
func (s *Service) notifyOwner(ctx context.Context, req *Request, typ notify.Type, message string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, notify.Notification{
		Type:              typ,
		RecoveryRequestID: req.ID,
		Recipient:         req.WalletIdentity,
		Message:           message,
		Timestamp:         time.Now(),
	}, req.WalletIdentity)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}

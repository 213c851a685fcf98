package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler arms one cancellable warning timer per request, firing
// WarningLead before the execution deadline. Timers live in process
// memory only; a restart drops them (documented durability gap).
type Scheduler struct {
	fire   func(requestID string)
	lead   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a scheduler that invokes fire when a request's
// warning comes due.
func NewScheduler(fire func(requestID string), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fire:   fire,
		lead:   WarningLead,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules the warning for a request. Arming twice replaces the
// prior timer. A warning instant already in the past is a no-op.
func (s *Scheduler) Arm(requestID string, executesAt time.Time) {
	warnAt := executesAt.Add(-s.lead)
	delay := time.Until(warnAt)
	if delay <= 0 {
		s.logger.Debug("time-lock warning instant already past, not arming",
			"requestId", requestID, "warnAt", warnAt)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.timers[requestID]; ok {
		prior.Stop()
	}
	s.timers[requestID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, requestID)
		s.mu.Unlock()
		s.safeFire(requestID)
	})
}

// Disarm cancels a pending warning. Idempotent when none exists.
func (s *Scheduler) Disarm(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[requestID]; ok {
		timer.Stop()
		delete(s.timers, requestID)
	}
}

// Armed reports whether a warning is currently scheduled for the request.
func (s *Scheduler) Armed(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[requestID]
	return ok
}

// Stop cancels every pending timer. Used at shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) safeFire(requestID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in time-lock warning", "requestId", requestID, "panic", fmt.Sprint(r))
		}
	}()
	s.fire(requestID)
}

// Sweeper periodically expires PENDING requests past their execution
// deadline so the one-active-request rule cannot wedge a wallet forever.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates an expiry sweeper.
func NewSweeper(service *Service, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		service:  service,
		interval: time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (w *Sweeper) Running() bool {
	return w.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (w *Sweeper) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (w *Sweeper) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in expiry sweeper", "panic", fmt.Sprint(r))
		}
	}()

	expired, err := w.service.ExpirePending(ctx)
	if err != nil {
		w.logger.Warn("expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		w.logger.Info("expired stale recovery requests", "count", expired)
	}
}

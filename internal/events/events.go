// Package events provides the in-process observer bus for recovery
// lifecycle events.
//
// The state machine and registry publish events; the notification
// dispatcher, audit log, realtime feed, and host application subscribe.
// Handlers run synchronously on the publisher's goroutine, outside the
// per-wallet lock — keep them fast and never let them block on I/O
// (spawn a goroutine inside the handler if delivery is slow).
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

// Kind identifies an event type.
type Kind string

const (
	KindGuardianAdded        Kind = "guardian-added"
	KindGuardianRemoved      Kind = "guardian-removed"
	KindGuardianVerified     Kind = "guardian-verified"
	KindGuardianSuspended    Kind = "guardian-suspended"
	KindGuardianReinstated   Kind = "guardian-reinstated"
	KindRecoveryInitiated    Kind = "recovery-initiated"
	KindGuardianApproved     Kind = "guardian-approved"
	KindRecoveryApproved     Kind = "recovery-approved"
	KindRecoveryExecuted     Kind = "recovery-executed"
	KindRecoveryTestComplete Kind = "recovery-test-completed"
	KindRecoveryCancelled    Kind = "recovery-cancelled"
	KindRecoveryExpired      Kind = "recovery-expired"
	KindNotification         Kind = "notification"
	KindNotificationSkipped  Kind = "notification-skipped"
	KindNotificationLogged   Kind = "notification-logged"
	KindActionLogged         Kind = "action-logged"
)

// Event is a single published lifecycle event.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Handler receives a published event.
type Handler func(Event)

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyward",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total events published by kind.",
	}, []string{"kind"})

	handlerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyward",
		Subsystem: "events",
		Name:      "handler_panics_total",
		Help:      "Total event handler panics recovered by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(publishedTotal, handlerPanics)
}

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	all      []Handler
	logger   *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching handlers. A nil Bus is a no-op
// so components can treat the bus as optional.
func (b *Bus) Publish(kind Kind, payload map[string]interface{}) {
	if b == nil {
		return
	}
	publishedTotal.WithLabelValues(string(kind)).Inc()

	event := Event{
		ID:        idgen.WithPrefix("evt_"),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[kind])+len(b.all))
	targets = append(targets, b.handlers[kind]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(event, h)
	}
}

func (b *Bus) deliver(event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.WithLabelValues(string(event.Kind)).Inc()
			b.logger.Error("panic in event handler",
				"kind", event.Kind, "panic", fmt.Sprint(r))
		}
	}()
	h(event)
}

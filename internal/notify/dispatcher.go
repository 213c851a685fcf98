package notify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyward",
		Subsystem: "notify",
		Name:      "dispatch_total",
		Help:      "Total notification dispatch attempts by channel and result.",
	}, []string{"channel", "result"})
)

func init() {
	prometheus.MustRegister(dispatchTotal)
}

// phonePattern matches E.164-ish phone numbers with optional separators.
var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\-\s().]{5,18}$`)

// Dispatcher routes a notification to the right channel based on the
// recipient's contact shape: email when it contains '@', SMS when it looks
// like a phone number, push as the configured fallback, and the log sink
// when nothing else applies.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	push   PushSender
	vault  vault.Vault
	bus    *events.Bus
	logger *slog.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithEmail sets the email sender.
func WithEmail(s EmailSender) Option { return func(d *Dispatcher) { d.email = s } }

// WithSMS sets the SMS sender.
func WithSMS(s SMSSender) Option { return func(d *Dispatcher) { d.sms = s } }

// WithPush sets the push sender.
func WithPush(s PushSender) Option { return func(d *Dispatcher) { d.push = s } }

// NewDispatcher creates a notification dispatcher. All senders are
// optional; with none configured every notification lands in the log sink.
func NewDispatcher(v vault.Vault, bus *events.Bus, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{vault: v, bus: bus, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchSealed opens a vault-sealed contact blob and dispatches. An
// empty blob or a vault failure skips the notification (non-fatal).
func (d *Dispatcher) DispatchSealed(ctx context.Context, n Notification, sealedContact string) {
	if sealedContact == "" {
		d.skip(n, "no contact on record")
		return
	}
	contact, err := d.vault.Open(sealedContact)
	if err != nil {
		d.logger.Warn("failed to open sealed contact",
			"type", n.Type, "recipient", n.Recipient, "error", err)
		d.skip(n, "contact unsealing failed")
		return
	}
	d.Dispatch(ctx, n, contact)
}

// Dispatch delivers a notification to the resolved contact. Best-effort:
// sender errors are logged and counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, contact string) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		d.skip(n, "no contact resolvable")
		return
	}

	switch {
	case strings.Contains(contact, "@") && d.email != nil:
		d.send("email", n, func() error {
			return d.email.SendEmail(ctx, contact, n.Subject(), n.Message)
		})
	case phonePattern.MatchString(contact) && d.sms != nil:
		d.send("sms", n, func() error {
			return d.sms.SendSMS(ctx, contact, n.Message)
		})
	case d.push != nil:
		d.send("push", n, func() error {
			return d.push.SendPush(ctx, contact, n.Subject(), n.Message)
		})
	default:
		d.logger.Info("notification logged (no sender configured)",
			"type", n.Type, "recipient", n.Recipient, "requestId", n.RecoveryRequestID,
			"message", n.Message)
		dispatchTotal.WithLabelValues("log", "ok").Inc()
		d.bus.Publish(events.KindNotificationLogged, eventPayload(n))
	}
}

func (d *Dispatcher) send(channel string, n Notification, deliver func() error) {
	if err := deliver(); err != nil {
		// Advisory: failure must not surface to the state machine.
		dispatchTotal.WithLabelValues(channel, "error").Inc()
		d.logger.Warn("notification delivery failed",
			"channel", channel, "type", n.Type, "recipient", n.Recipient, "error", err)
		return
	}
	dispatchTotal.WithLabelValues(channel, "ok").Inc()
	d.bus.Publish(events.KindNotification, eventPayload(n))
}

func (d *Dispatcher) skip(n Notification, reason string) {
	dispatchTotal.WithLabelValues("none", "skipped").Inc()
	d.logger.Debug("notification skipped",
		"type", n.Type, "recipient", n.Recipient, "reason", reason)
	payload := eventPayload(n)
	payload["reason"] = reason
	d.bus.Publish(events.KindNotificationSkipped, payload)
}

func eventPayload(n Notification) map[string]interface{} {
	return map[string]interface{}{
		"type":      string(n.Type),
		"requestId": n.RecoveryRequestID,
		"recipient": n.Recipient,
	}
}

package realtime

import (
	"context"
	"time"

	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/idgen"
)

// PushFeed delivers push notifications through the WebSocket feed. It
// satisfies the notification dispatcher's push channel: wallet owners
// are addressed by identity, so a connected client subscribed to its
// wallet sees the notification immediately. Delivery is fire-and-forget;
// a wallet with no connected client simply misses the push.
type PushFeed struct {
	hub *Hub
}

// NewPushFeed creates a push channel backed by the hub.
func NewPushFeed(hub *Hub) *PushFeed {
	return &PushFeed{hub: hub}
}

// SendPush broadcasts the notification to clients watching the recipient.
func (f *PushFeed) SendPush(_ context.Context, to, title, body string) error {
	f.hub.Broadcast(events.Event{
		ID:        idgen.WithPrefix("evt_"),
		Kind:      events.KindNotification,
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"channel":   "push",
			"recipient": to,
			"title":     title,
			"message":   body,
		},
	})
	return nil
}

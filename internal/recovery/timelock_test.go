package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/notify"
	"github.com/keyward/keyward/internal/vault"
)

func mustVault(t *testing.T) vault.Vault {
	t.Helper()
	v, err := vault.NewAESVault([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return v
}

type firedLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *firedLog) record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *firedLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func shortLeadScheduler(fire func(string), lead time.Duration) *Scheduler {
	s := NewScheduler(fire, nil)
	s.lead = lead
	return s
}

func TestScheduler_FiresAfterDelay(t *testing.T) {
	fired := &firedLog{}
	s := shortLeadScheduler(fired.record, 0)
	defer s.Stop()

	s.Arm("rcv_1", time.Now().Add(30*time.Millisecond))

	if !s.Armed("rcv_1") {
		t.Fatal("timer should be armed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.count() != 1 {
		t.Fatalf("fired %d times, want 1", fired.count())
	}
	if s.Armed("rcv_1") {
		t.Error("timer should clear itself after firing")
	}
}

func TestScheduler_DisarmPreventsFiring(t *testing.T) {
	fired := &firedLog{}
	s := shortLeadScheduler(fired.record, 0)
	defer s.Stop()

	s.Arm("rcv_1", time.Now().Add(50*time.Millisecond))
	s.Disarm("rcv_1")

	time.Sleep(120 * time.Millisecond)
	if fired.count() != 0 {
		t.Errorf("disarmed timer fired %d times", fired.count())
	}

	// Disarm with nothing armed is a no-op.
	s.Disarm("rcv_1")
	s.Disarm("rcv_never_armed")
}

func TestScheduler_RearmReplaces(t *testing.T) {
	fired := &firedLog{}
	s := shortLeadScheduler(fired.record, 0)
	defer s.Stop()

	s.Arm("rcv_1", time.Now().Add(30*time.Millisecond))
	s.Arm("rcv_1", time.Now().Add(60*time.Millisecond))

	time.Sleep(250 * time.Millisecond)
	if fired.count() != 1 {
		t.Errorf("re-armed timer fired %d times, want 1", fired.count())
	}
}

func TestScheduler_PastInstantIsNoOp(t *testing.T) {
	fired := &firedLog{}
	// Default 24h lead: an executesAt inside the lead window means the
	// warning instant is already past.
	s := NewScheduler(fired.record, nil)
	defer s.Stop()

	s.Arm("rcv_1", time.Now().Add(time.Hour))

	if s.Armed("rcv_1") {
		t.Error("past warning instant must not arm a timer")
	}
}

func TestScheduler_FirePanicIsRecovered(t *testing.T) {
	s := shortLeadScheduler(func(string) { panic("boom") }, 0)
	defer s.Stop()

	s.Arm("rcv_1", time.Now().Add(10*time.Millisecond))
	time.Sleep(100 * time.Millisecond)
	// Reaching here without crashing is the assertion.
}

func TestTimeLockWarning_OnlyForApprovedRequests(t *testing.T) {
	f := newFixture(t, 3, 2)
	ctx := context.Background()

	bus := events.NewBus(nil)
	var mu sync.Mutex
	var skipped, logged int
	bus.Subscribe(events.KindNotificationSkipped, func(events.Event) {
		mu.Lock()
		skipped++
		mu.Unlock()
	})
	bus.Subscribe(events.KindNotificationLogged, func(events.Event) {
		mu.Lock()
		logged++
		mu.Unlock()
	})
	f.svc.dispatcher = notify.NewDispatcher(mustVault(t), bus, nil)

	req, _ := f.svc.Initiate(ctx, testWallet, testNewOwner, false)
	f.approve(t, req.ID, 0)
	f.approve(t, req.ID, 1)

	// Cancelled before the warning fires: no notification of any kind.
	if err := f.svc.Cancel(ctx, req.ID, testWallet); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	mu.Lock()
	baseline := logged
	mu.Unlock()

	f.svc.fireTimeLockWarning(req.ID)
	mu.Lock()
	defer mu.Unlock()
	if logged != baseline {
		t.Error("warning fired for a cancelled request")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t, 3, 2)

	w := NewSweeper(f.svc, nil)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !w.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !w.Running() {
		t.Fatal("sweeper did not start")
	}

	req, _ := f.svc.Initiate(context.Background(), testWallet, testNewOwner, false)
	f.expireTimeLock(t, req.ID)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := f.svc.Get(context.Background(), req.ID)
		if got.Status == StatusExpired {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := f.svc.Get(context.Background(), req.ID)
	if got.Status != StatusExpired {
		t.Fatal("sweeper never expired the stale request")
	}

	w.Stop()
	deadline = time.Now().Add(time.Second)
	for w.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if w.Running() {
		t.Error("sweeper did not stop")
	}
}

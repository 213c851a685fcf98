package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	ip := "203.0.113.7"

	for i := 0; i < 5; i++ {
		if !limiter.Allow(ip) {
			t.Errorf("request %d within the burst should be allowed", i)
		}
	}

	if limiter.Allow(ip) {
		t.Error("request past the burst should be denied")
	}

	// One token replenishes per second at 60/min.
	time.Sleep(time.Second)

	if !limiter.Allow(ip) {
		t.Error("request after replenishment should be allowed")
	}
}

func TestLimiterIsolatesClients(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("203.0.113.7")
	}

	if limiter.Allow("203.0.113.7") {
		t.Error("exhausted client should be rate limited")
	}

	if !limiter.Allow("198.51.100.23") {
		t.Error("a fresh client must not inherit another client's limit")
	}
}

func TestLimiterTokenReplenishment(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 600, // 10 per second
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	ip := "203.0.113.7"

	if !limiter.Allow(ip) {
		t.Error("first request should be allowed")
	}
	if limiter.Allow(ip) {
		t.Error("second immediate request should be denied")
	}

	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow(ip) {
		t.Error("request after 100ms should be allowed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("expected burst size 10, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}

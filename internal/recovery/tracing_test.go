package recovery

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func spanNames(recorder *tracetest.SpanRecorder) map[string]bool {
	names := make(map[string]bool)
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	return names
}

func TestLifecycleEmitsSpans(t *testing.T) {
	recorder := withSpanRecorder(t)
	f := newFixture(t, 3, 2)
	ctx := context.Background()

	req, err := f.svc.Initiate(ctx, testWallet, testNewOwner, false)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	f.approve(t, req.ID, 0)
	if err := f.svc.Cancel(ctx, req.ID, testWallet); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	names := spanNames(recorder)
	for _, want := range []string{"recovery.Initiate", "recovery.Approve", "recovery.Cancel"} {
		if !names[want] {
			t.Errorf("missing span %q, got %v", want, names)
		}
	}
}

func TestCompleteEmitsSpan(t *testing.T) {
	recorder := withSpanRecorder(t)
	f := newFixture(t, 2, 2)
	ctx := context.Background()

	req, err := f.svc.Initiate(ctx, testWallet, testNewOwner, false)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	f.approve(t, req.ID, 0)
	f.approve(t, req.ID, 1)
	f.expireTimeLock(t, req.ID)

	if _, err := f.svc.Complete(ctx, req.ID, "0xauth"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if names := spanNames(recorder); !names["recovery.Complete"] {
		t.Errorf("missing span recovery.Complete, got %v", names)
	}
}

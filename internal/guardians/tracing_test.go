package guardians

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMutationsEmitSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := newTestRegistry(t, 2, Limits{MinGuardians: 1, MaxGuardians: 10})
	ctx := context.Background()

	addVerified(t, r, 3)
	if err := r.SuspendGuardian(ctx, ident(2)); err != nil {
		t.Fatalf("SuspendGuardian: %v", err)
	}
	if err := r.ReinstateGuardian(ctx, ident(2)); err != nil {
		t.Fatalf("ReinstateGuardian: %v", err)
	}
	if err := r.RemoveGuardian(ctx, ident(2)); err != nil {
		t.Fatalf("RemoveGuardian: %v", err)
	}

	names := make(map[string]bool)
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{
		"guardians.AddGuardian",
		"guardians.VerifyGuardian",
		"guardians.SuspendGuardian",
		"guardians.ReinstateGuardian",
		"guardians.RemoveGuardian",
	} {
		if !names[want] {
			t.Errorf("missing span %q, got %v", want, names)
		}
	}
}

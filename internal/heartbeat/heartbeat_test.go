package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
)

func recvHeartbeat(t *testing.T, ch <-chan bus.Message) contract.Heartbeat {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		hb, err := contract.DecodeHeartbeat(msg.Payload)
		if err != nil {
			t.Fatalf("DecodeHeartbeat() error = %v", err)
		}
		return hb
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
	return contract.Heartbeat{}
}

func TestSpawnPublishesAtInterval(t *testing.T) {
	b := bus.NewMemory(nil)
	t.Cleanup(func() { b.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub, err := b.Subscribe(ctx, contract.TopicHeartbeat)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	Spawn(ctx, b, 10*time.Millisecond, nil)

	first := recvHeartbeat(t, sub)
	if first.TS.IsZero() {
		t.Fatal("first heartbeat has zero ts")
	}
	second := recvHeartbeat(t, sub)
	if second.TS.Before(first.TS) {
		t.Errorf("second heartbeat ts %v before first %v", second.TS, first.TS)
	}
}

func TestSpawnDefaultsInterval(t *testing.T) {
	b := bus.NewMemory(nil)
	t.Cleanup(func() { b.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub, err := b.Subscribe(ctx, contract.TopicHeartbeat)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Zero interval falls back to the 30s default; the immediate first
	// beat still arrives right away.
	Spawn(ctx, b, 0, nil)
	recvHeartbeat(t, sub)
}

func TestSpawnStopsOnCancel(t *testing.T) {
	b := bus.NewMemory(nil)
	t.Cleanup(func() { b.Close() })
	ctx, cancel := context.WithCancel(context.Background())

	done := Spawn(ctx, b, time.Hour, nil)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat producer did not stop after cancel")
	}
}

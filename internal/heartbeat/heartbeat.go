// Package heartbeat publishes the hub's periodic liveness tick.
package heartbeat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
)

// DefaultInterval is the tick period when the config does not set one.
const DefaultInterval = 30 * time.Second

// Spawn starts the producer goroutine. The first heartbeat goes out
// immediately, then one per interval until ctx is cancelled. A non
// positive interval falls back to DefaultInterval. The returned channel
// closes when the goroutine exits.
func Spawn(ctx context.Context, b bus.Bus, interval time.Duration, logger *slog.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		beat(ctx, b, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				beat(ctx, b, logger)
			}
		}
	}()
	return done
}

func beat(ctx context.Context, b bus.Bus, logger *slog.Logger) {
	payload, err := json.Marshal(contract.Heartbeat{TS: time.Now().UTC()})
	if err != nil {
		logger.Warn("heartbeat marshal failed", "error", err)
		return
	}
	if err := b.Publish(ctx, bus.Message{Topic: contract.TopicHeartbeat, Payload: payload}); err != nil {
		logger.Warn("heartbeat publish failed", "error", err)
	}
}

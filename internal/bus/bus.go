// Package bus moves krypin's messages between adapters, the hub
// subscribers, and the HTTP surface. Both implementations broadcast:
// every subscription sees every message whose topic matches its
// pattern. Delivery is non-blocking; a slow subscriber misses messages
// rather than stalling publishers.
package bus

import (
	"context"
	"errors"
	"time"
)

// DefaultBufferSize is the per-subscription channel buffer.
const DefaultBufferSize = 1024

// ErrClosed is returned by operations on a bus that has shut down.
var ErrClosed = errors.New("bus closed")

// Message is one unit of traffic on the bus. ReceivedAt is stamped when
// the message enters the process; subscribers use it to measure handler
// latency.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Bus is the hub's transport abstraction. The channel returned by
// Subscribe is closed when ctx is cancelled or the bus shuts down.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, pattern string) (<-chan Message, error)
	Close() error
}

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/metrics"
)

// Memory is the in-process Bus. Publish fans each message out to every
// subscription whose pattern matches the topic. Safe to call Publish on
// a nil receiver (no-op), so optional components do not need guards.
type Memory struct {
	mu   sync.RWMutex
	subs map[chan Message]string
	// Subscribers hold the receive side only; recvToSend recovers the
	// send side so unsubscription can work from the caller's view of
	// the channel.
	recvToSend map[<-chan Message]chan Message
	closed     bool
	metrics    *metrics.Metrics
}

// NewMemory creates an in-process bus. metrics may be nil.
func NewMemory(m *metrics.Metrics) *Memory {
	return &Memory{
		subs:       make(map[chan Message]string),
		recvToSend: make(map[<-chan Message]chan Message),
		metrics:    m,
	}
}

// Publish delivers msg to every matching subscription. Non-blocking: if
// a subscriber's channel is full the message is dropped for that
// subscriber and counted.
func (b *Memory) Publish(_ context.Context, msg Message) error {
	if b == nil {
		return nil
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for ch, pattern := range b.subs {
		if !contract.TopicMatches(pattern, msg.Topic) {
			continue
		}
		select {
		case ch <- msg:
		default:
			// Subscriber is full; drop the message rather than block.
			b.metrics.RecordDropped("inmem")
		}
	}
	return nil
}

// Subscribe registers pattern and returns its delivery channel. The
// channel is closed when ctx is cancelled, Unsubscribe is called, or
// the bus closes.
func (b *Memory) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	ch := make(chan Message, DefaultBufferSize)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[ch] = pattern
	b.recvToSend[ch] = ch
	b.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			b.Unsubscribe(ch)
		}()
	}
	return ch, nil
}

// Unsubscribe drops the subscription and closes its channel.
// Unsubscribing twice is a no-op.
func (b *Memory) Unsubscribe(ch <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Memory) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription channel and rejects further use.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Message]string)
	b.recvToSend = make(map[<-chan Message]chan Message)
	return nil
}

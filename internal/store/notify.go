package store

import (
	"context"
	"sync"
)

// notifyBuffer bounds each listener's pending notifications. A full buffer
// drops the notification; listeners poll as a fallback.
const notifyBuffer = 16

// broadcaster fans commit notifications out to in-process listeners.
type broadcaster struct {
	mu        sync.Mutex
	listeners map[chan string]struct{}
	done      chan struct{}
	closed    bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		listeners: make(map[chan string]struct{}),
		done:      make(chan struct{}),
	}
}

// subscribe registers a listener that lives until ctx is cancelled or the
// broadcaster is closed. The returned channel is closed on either event.
func (b *broadcaster) subscribe(ctx context.Context) (<-chan string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ch := make(chan string, notifyBuffer)
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.remove(ch)
	}()
	return ch, nil
}

func (b *broadcaster) remove(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[ch]; ok {
		delete(b.listeners, ch)
		close(ch)
	}
}

// publish delivers key to every listener without blocking.
func (b *broadcaster) publish(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.listeners {
		select {
		case ch <- key:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
}

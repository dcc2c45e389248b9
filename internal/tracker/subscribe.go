package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/metrics"
	"github.com/hyperengineering/seventyfive/internal/store"
)

// Subscription is a live listener on the challenge document.
type Subscription struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	mu  sync.Mutex
	err error
}

// Stop ends the subscription. It is idempotent, does not block, and may be
// called from inside the callback. A callback already running when Stop is
// called finishes; none start afterwards. Done is closed once the
// subscription goroutine has exited.
func (s *Subscription) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.cancel()
}

// Done is closed when no further callbacks will run.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the most recent background error, or nil. Background errors
// are retried on the next poll and do not end the subscription.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// deliver invokes fn unless the subscription was stopped or its context
// cancelled.
func (s *Subscription) deliver(ctx context.Context, fn func(*challenge.Document), doc *challenge.Document, reason string) bool {
	if s.stopped.Load() || ctx.Err() != nil {
		return false
	}
	fn(doc)
	metrics.RecordDelivery(reason)
	return !s.stopped.Load() && ctx.Err() == nil
}

// Subscribe calls fn with the current document, initializing it if absent,
// and then with the full document after every committed change from any
// writer, in commit order. fn runs on the subscription goroutine; a slow fn
// delays later deliveries but never drops them. The subscription ends when
// ctx is cancelled or Stop is called.
func (c *Client) Subscribe(ctx context.Context, fn func(*challenge.Document)) (*Subscription, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := challenge.Decode(snap.Data)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	var notes <-chan string
	if n, ok := c.store.(store.Notifier); ok {
		ch, err := n.Notifications(loopCtx)
		if err != nil {
			c.logger.Warn("change notifications unavailable, polling only", "error", err)
		} else {
			notes = ch
		}
	}

	metrics.SubscriptionStarted()
	go c.run(loopCtx, sub, fn, doc, snap.Sequence, notes)
	return sub, nil
}

// Watch is the channel form of Subscribe. The channel is closed when ctx is
// cancelled. Deliveries block while the buffer is full.
func (c *Client) Watch(ctx context.Context) (<-chan *challenge.Document, error) {
	out := make(chan *challenge.Document, c.buffer)
	sub, err := c.Subscribe(ctx, func(doc *challenge.Document) {
		select {
		case out <- doc:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-sub.Done()
		close(out)
	}()
	return out, nil
}

func (c *Client) run(ctx context.Context, sub *Subscription, fn func(*challenge.Document), first *challenge.Document, after int64, notes <-chan string) {
	defer close(sub.done)
	defer metrics.SubscriptionStopped()
	defer sub.cancel()

	if !sub.deliver(ctx, fn, first, "initial") {
		return
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			if key != "" && key != c.key {
				continue
			}
		case <-ticker.C:
		}

		next, more, err := c.catchUp(ctx, sub, fn, after)
		after = next
		if !more {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.setErr(err)
			c.logger.Warn("subscription catch-up failed", "action", "subscribe", "error", err)
		}
	}
}

// catchUp delivers every change after the given sequence and returns the new
// position. more is false once the subscription was stopped.
func (c *Client) catchUp(ctx context.Context, sub *Subscription, fn func(*challenge.Document), after int64) (next int64, more bool, err error) {
	for {
		changes, err := c.store.ChangesAfter(ctx, c.key, after, c.pageSize)
		switch {
		case errors.Is(err, store.ErrCompacted):
			return c.resync(ctx, sub, fn, after, "resync")
		case errors.Is(err, store.ErrNotFound):
			return c.resync(ctx, sub, fn, after, "initial")
		case err != nil:
			return after, true, fmt.Errorf("read changes after %d: %w", after, err)
		}

		for _, ch := range changes {
			doc, err := challenge.Decode(ch.Payload)
			if err != nil {
				c.logger.Warn("skipping undecodable change", "sequence", ch.Sequence, "error", err)
				after = ch.Sequence
				continue
			}
			if !sub.deliver(ctx, fn, doc, "change") {
				return ch.Sequence, false, nil
			}
			after = ch.Sequence
		}
		if len(changes) < c.pageSize {
			return after, true, nil
		}
	}
}

// resync delivers a fresh point read when the change log can no longer
// bridge the gap, initializing the document if it vanished.
func (c *Client) resync(ctx context.Context, sub *Subscription, fn func(*challenge.Document), after int64, reason string) (int64, bool, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return after, true, fmt.Errorf("resync: %w", err)
	}
	if snap.Sequence <= after && reason == "resync" {
		return after, true, nil
	}
	doc, err := challenge.Decode(snap.Data)
	if err != nil {
		return snap.Sequence, true, err
	}
	c.logger.Info("subscription resynchronized", "action", "subscribe", "reason", reason, "sequence", snap.Sequence)
	if !sub.deliver(ctx, fn, doc, reason) {
		return snap.Sequence, false, nil
	}
	return snap.Sequence, true, nil
}

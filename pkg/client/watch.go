package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/seventyfive/internal/challenge"
)

// Watch polls the change log and sends the document after every committed
// change, starting with the current one. When the server has compacted past
// the last seen sequence, Watch resynchronizes from a point read. Transient
// errors are retried on the next poll. The channel is closed when ctx is
// cancelled.
func (c *Client) Watch(ctx context.Context) (<-chan *challenge.Document, error) {
	doc, seq, err := c.Document(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *challenge.Document, 16)
	go func() {
		defer close(out)
		if !send(ctx, out, doc) {
			return
		}

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			next, ok := c.catchUp(ctx, out, seq)
			if !ok {
				return
			}
			seq = next
		}
	}()
	return out, nil
}

// catchUp drains every page after seq. ok is false once ctx is done.
func (c *Client) catchUp(ctx context.Context, out chan<- *challenge.Document, seq int64) (int64, bool) {
	for {
		delta, err := c.Delta(ctx, seq, 0)
		if errors.Is(err, ErrCompacted) {
			doc, latest, err := c.Document(ctx)
			if err != nil {
				return seq, ctx.Err() == nil
			}
			if latest > seq {
				if !send(ctx, out, doc) {
					return latest, false
				}
			}
			return latest, true
		}
		if err != nil {
			return seq, ctx.Err() == nil
		}

		for _, ch := range delta.Changes {
			doc, err := challenge.Decode(ch.Payload)
			if err != nil {
				seq = ch.Sequence
				continue
			}
			if !send(ctx, out, doc) {
				return ch.Sequence, false
			}
			seq = ch.Sequence
		}
		if !delta.HasMore {
			return seq, true
		}
	}
}

func send(ctx context.Context, out chan<- *challenge.Document, doc *challenge.Document) bool {
	select {
	case out <- doc:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stream opens the server's event stream and sends every document it pushes.
// Unlike Watch it holds one connection open and does not reconnect; the
// channel is closed when the stream ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context) (<-chan *challenge.Document, error) {
	u := *c.base
	u.Path += "/api/v1/challenge/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(SourceHeader, c.source)

	// The stream outlives any client-wide timeout.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan *challenge.Document, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
		var event string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				event = ""
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "document":
				doc, err := challenge.Decode([]byte(strings.TrimPrefix(line, "data: ")))
				if err != nil {
					continue
				}
				if !send(ctx, out, doc) {
					return
				}
			}
		}
	}()
	return out, nil
}

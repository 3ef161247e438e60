package feed

import "sync"

// Client represents one connected feed subscriber.
//
// Send is never closed by the server so concurrent publishers cannot panic.
// done signals the writer to stop; Close is idempotent.
type Client struct {
	ID    string
	Scope *string // nil receives every scope
	Send  chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, scope *string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:    id,
		Scope: scope,
		Send:  make(chan Event, sendQueueSize),
		done:  make(chan struct{}),
	}
}

// Wants reports whether ev passes the client's scope filter.
func (c *Client) Wants(ev Event) bool {
	if c.Scope == nil || ev.Type == TypeReady {
		return true
	}
	return ev.OwnerScope != nil && *ev.OwnerScope == *c.Scope
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

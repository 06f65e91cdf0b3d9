// Package chain wraps registry mutations in a two-phase transaction shape:
// a submit that returns a handle immediately and a confirmation that lands
// once the write has been applied. Callers see the same pending/confirmed
// lifecycle a remote settlement backend would expose, with the in-process
// registry acting as the executor.
package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"credvault.org/internal/ids"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("chain: client closed")

// Tx is a handle to one submitted write.
type Tx struct {
	// Hash identifies the transaction. Assigned at submit time.
	Hash string
	// Op names the operation for logging and metrics.
	Op string

	done chan struct{}
	err  error
}

// Wait blocks until the transaction is confirmed or the context is done.
// A nil return means the write was applied.
func (t *Tx) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed on confirmation or failure.
func (t *Tx) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome. Only meaningful after Done is closed.
func (t *Tx) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Client executes submitted writes one at a time, in submission order.
type Client struct {
	mu           sync.Mutex
	closed       bool
	confirmDelay time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithConfirmDelay adds artificial latency between submit and confirm.
// Useful for exercising pending-state handling in tests and demos.
func WithConfirmDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.confirmDelay = d
		}
	}
}

// NewClient builds an executor with no confirmation latency.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit schedules mutate for execution and returns its handle right away.
// Writes are serialized on the client, so two submits never interleave.
func (c *Client) Submit(ctx context.Context, op string, mutate func(context.Context) error) (*Tx, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	tx := &Tx{
		Hash: ids.New(),
		Op:   op,
		done: make(chan struct{}),
	}
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		defer close(tx.done)
		if c.confirmDelay > 0 {
			select {
			case <-time.After(c.confirmDelay):
			case <-ctx.Done():
				tx.err = ctx.Err()
				return
			}
		}
		if err := ctx.Err(); err != nil {
			tx.err = err
			return
		}
		tx.err = mutate(ctx)
	}()
	return tx, nil
}

// Close stops accepting new submissions. In-flight writes still confirm.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

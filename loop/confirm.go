package loop

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/soulmesh/logging"
)

// Confirmations tracks tool calls suspended on user approval. Each pending
// call is keyed by its call id and resolved either by an incoming reply or
// by its timeout; unanswered requests default to rejection.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string]chan bool
	logger  logging.Logger
}

// NewConfirmations creates an empty pending-request table.
func NewConfirmations(logger logging.Logger) *Confirmations {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Confirmations{pending: make(map[string]chan bool), logger: logger}
}

// Register inserts a pending entry for the call and returns the reply
// channel. The entry must exist before the confirmation request leaves the
// process, so a reply racing the request still finds its waiter.
func (c *Confirmations) Register(callID string) <-chan bool {
	ch := make(chan bool, 1)

	c.mu.Lock()
	c.pending[callID] = ch
	c.mu.Unlock()

	return ch
}

// Wait blocks on a previously Registered call until it is approved,
// rejected, times out or the context is canceled. Timeout and cancellation
// both count as rejection.
func (c *Confirmations) Wait(ctx context.Context, callID string, ch <-chan bool, timeout time.Duration) bool {
	defer func() {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approved := <-ch:
		return approved
	case <-timer.C:
		c.logger.Info("confirm.timeout", "call_id", callID)
		return false
	case <-ctx.Done():
		return false
	}
}

// Await registers the call and waits in one step, for callers that have no
// request to emit in between.
func (c *Confirmations) Await(ctx context.Context, callID string, timeout time.Duration) bool {
	return c.Wait(ctx, callID, c.Register(callID), timeout)
}

// Resolve answers a pending confirmation. Replies for unknown or expired
// call ids are ignored. Returns whether a waiter was resolved.
func (c *Confirmations) Resolve(callID string, approved bool) bool {
	c.mu.Lock()
	ch, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("confirm.unknown_call", "call_id", callID)
		return false
	}
	ch <- approved
	return true
}

// PendingCount reports how many calls are currently suspended.
func (c *Confirmations) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

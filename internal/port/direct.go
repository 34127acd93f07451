package port

import (
	"context"
	"fmt"
	"sync"

	"github.com/makeasinger/videoagent/internal/model"
)

// DirectIO persists like QueueIO and additionally blocks the engine on
// OnInputRequired until a transport calls Deliver.
type DirectIO struct {
	*QueueIO

	mu      sync.Mutex
	replies chan string
	closed  bool
	onClose []func()
}

func NewDirectIO(store TaskWriter, taskID string) *DirectIO {
	return &DirectIO{QueueIO: NewQueueIO(store, taskID)}
}

// OnInputRequired waits for a reply delivered through Deliver.
func (d *DirectIO) OnInputRequired(ctx context.Context, prompt string, artifacts []model.Artifact) (string, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrInputClosed
	}
	replies := make(chan string, 1)
	d.replies = replies
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.replies == replies {
			d.replies = nil
		}
		d.mu.Unlock()
	}()

	select {
	case reply, ok := <-replies:
		if !ok {
			return "", ErrInputClosed
		}
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Waiting reports whether the engine is blocked on OnInputRequired.
func (d *DirectIO) Waiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replies != nil
}

// Deliver records reply as a user message and hands it to the pending
// OnInputRequired call. The message is in the task history before Deliver
// returns.
func (d *DirectIO) Deliver(ctx context.Context, reply string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrInputClosed
	}
	if d.replies == nil {
		return ErrNoWaiter
	}
	if err := d.appendUserMessage(ctx, reply); err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}
	d.replies <- reply
	d.replies = nil
	return nil
}

// OnClose registers fn to run once when the port is closed. fn runs at once
// if the port is already closed.
func (d *DirectIO) OnClose(fn func()) {
	d.mu.Lock()
	if !d.closed {
		d.onClose = append(d.onClose, fn)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	fn()
}

func (d *DirectIO) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close releases a pending OnInputRequired with ErrInputClosed.
func (d *DirectIO) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.replies != nil {
		close(d.replies)
		d.replies = nil
	}
	callbacks := d.onClose
	d.onClose = nil
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

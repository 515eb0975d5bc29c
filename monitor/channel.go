package monitor

import (
	"context"
	"sync"
)

// ChannelBroadcaster delivers snapshots over an in-process channel. Sends
// never block: when the buffer is full the frame is dropped, but the latest
// snapshot is always retained for inspection. Used by tests and dev mode.
type ChannelBroadcaster struct {
	ch chan *Snapshot

	mu     sync.Mutex
	latest *Snapshot
	closed bool
}

// NewChannel creates a channel broadcaster with the given buffer size.
func NewChannel(buffer int) *ChannelBroadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelBroadcaster{ch: make(chan *Snapshot, buffer)}
}

func (b *ChannelBroadcaster) Publish(ctx context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.latest = snap
	select {
	case b.ch <- snap:
	default:
		// Buffer full: drop the frame, keep the run moving.
	}
	return nil
}

func (b *ChannelBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

// Snapshots returns the delivery channel.
func (b *ChannelBroadcaster) Snapshots() <-chan *Snapshot {
	return b.ch
}

// Latest returns the most recently published snapshot, delivered or not.
func (b *ChannelBroadcaster) Latest() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

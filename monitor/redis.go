package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/runlet/engine/common/redis"
)

// Frame is the wire envelope published to subscribers. A "snapshot" frame
// carries a full Snapshot; a "delta" frame carries an RFC 7386 merge patch
// against the previous frame's materialized snapshot.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	FrameSnapshot = "snapshot"
	FrameDelta    = "delta"
)

// ChannelFor returns the pub/sub channel an execution's frames appear on.
func ChannelFor(executionID string) string {
	return "execution.events." + executionID
}

// defaultFullEvery interleaves a full snapshot every N frames so that late
// subscribers resynchronize quickly.
const defaultFullEvery = 10

// RedisBroadcaster publishes execution frames on Redis pub/sub channels.
type RedisBroadcaster struct {
	redis     *redis.Client
	log       Logger
	timeout   time.Duration
	fullEvery int

	mu    sync.Mutex
	last  map[string][]byte
	count map[string]int
}

// RedisBroadcasterOpts configures a RedisBroadcaster.
type RedisBroadcasterOpts struct {
	Redis *redis.Client
	Log   Logger

	// PublishTimeout bounds every publish attempt. Zero means two seconds.
	PublishTimeout time.Duration

	// FullEvery forces a full snapshot frame every N frames. Zero means ten.
	FullEvery int
}

// NewRedis creates a Redis-backed broadcaster.
func NewRedis(opts RedisBroadcasterOpts) *RedisBroadcaster {
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	fullEvery := opts.FullEvery
	if fullEvery <= 0 {
		fullEvery = defaultFullEvery
	}
	return &RedisBroadcaster{
		redis:     opts.Redis,
		log:       opts.Log,
		timeout:   timeout,
		fullEvery: fullEvery,
		last:      make(map[string][]byte),
		count:     make(map[string]int),
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, snap *Snapshot) error {
	current, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	frame, err := b.buildFrame(snap, current)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	channel := ChannelFor(snap.ExecutionID)
	err = b.publishBounded(ctx, channel, string(payload))
	if err != nil && snap.Final {
		// The terminal snapshot is the one frame subscribers must see.
		if b.log != nil {
			b.log.Warn("retrying final snapshot publish", "execution_id", snap.ExecutionID, "error", err)
		}
		err = b.publishBounded(ctx, channel, string(payload))
	}
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	b.mu.Lock()
	if snap.Final {
		delete(b.last, snap.ExecutionID)
		delete(b.count, snap.ExecutionID)
	} else {
		b.last[snap.ExecutionID] = current
		b.count[snap.ExecutionID]++
	}
	b.mu.Unlock()
	return nil
}

// buildFrame decides between a full snapshot and a merge-patch delta.
func (b *RedisBroadcaster) buildFrame(snap *Snapshot, current []byte) (*Frame, error) {
	b.mu.Lock()
	prev := b.last[snap.ExecutionID]
	n := b.count[snap.ExecutionID]
	b.mu.Unlock()

	if prev == nil || snap.Final || n%b.fullEvery == 0 {
		return &Frame{Type: FrameSnapshot, Data: current}, nil
	}

	patch, err := jsonpatch.CreateMergePatch(prev, current)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot delta: %w", err)
	}
	return &Frame{Type: FrameDelta, Data: patch}, nil
}

func (b *RedisBroadcaster) publishBounded(ctx context.Context, channel, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.redis.PublishEvent(ctx, channel, payload)
}

func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	b.last = make(map[string][]byte)
	b.count = make(map[string]int)
	b.mu.Unlock()
	return nil
}

// Materialize applies a frame to the previously materialized snapshot JSON
// and returns the resulting full snapshot JSON. Subscribers use it to fold
// delta frames back into full snapshots.
func Materialize(prev []byte, frame *Frame) ([]byte, error) {
	switch frame.Type {
	case FrameSnapshot:
		return frame.Data, nil
	case FrameDelta:
		if prev == nil {
			return nil, fmt.Errorf("delta frame without a base snapshot")
		}
		merged, err := jsonpatch.MergePatch(prev, frame.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to apply snapshot delta: %w", err)
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unknown frame type: %s", frame.Type)
	}
}

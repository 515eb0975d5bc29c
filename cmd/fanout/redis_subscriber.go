package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/runlet/engine/common/logger"
	"github.com/runlet/engine/monitor"
)

// Subscriber listens to the execution event channels and feeds materialized
// snapshots to the hub. The engine publishes a mix of full snapshots and
// merge-patch deltas; the subscriber folds the deltas here so every socket
// only ever sees complete snapshot documents.
type Subscriber struct {
	redis *goredis.Client
	hub   *Hub
	log   *logger.Logger

	// prev holds the last materialized snapshot per execution, the base the
	// next delta applies to.
	prev map[string][]byte
}

func NewSubscriber(redis *goredis.Client, hub *Hub, log *logger.Logger) *Subscriber {
	return &Subscriber{
		redis: redis,
		hub:   hub,
		log:   log,
		prev:  make(map[string][]byte),
	}
}

// Start subscribes to every execution channel and pumps updates into the hub
// until the context ends. It returns once the subscription is lost.
func (s *Subscriber) Start(ctx context.Context) error {
	pattern := monitor.ChannelFor("*")
	pubsub := s.redis.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	s.log.Info("subscribed to execution events", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", pattern)
			}
			executionID := executionFromChannel(msg.Channel)
			if executionID == "" {
				s.log.Warn("ignoring event on unexpected channel", "channel", msg.Channel)
				continue
			}
			update, err := s.fold(executionID, []byte(msg.Payload))
			if err != nil {
				// A delta with no base happens right after startup; the
				// next interleaved full snapshot resynchronizes us.
				s.log.Debug("dropping frame", "execution_id", executionID, "error", err)
				continue
			}
			s.hub.broadcast <- update
		}
	}
}

// fold applies one wire frame to the subscriber's view of the execution and
// returns the resulting full snapshot.
func (s *Subscriber) fold(executionID string, payload []byte) (*Update, error) {
	var frame monitor.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("undecodable frame: %w", err)
	}

	snapshot, err := monitor.Materialize(s.prev[executionID], &frame)
	if err != nil {
		return nil, err
	}

	var meta struct {
		Final bool `json:"final"`
	}
	if err := json.Unmarshal(snapshot, &meta); err != nil {
		return nil, fmt.Errorf("undecodable snapshot: %w", err)
	}

	if meta.Final {
		delete(s.prev, executionID)
	} else {
		s.prev[executionID] = snapshot
	}
	return &Update{ExecutionID: executionID, Snapshot: snapshot, Final: meta.Final}, nil
}

func executionFromChannel(channel string) string {
	prefix := monitor.ChannelFor("")
	if !strings.HasPrefix(channel, prefix) {
		return ""
	}
	return strings.TrimPrefix(channel, prefix)
}

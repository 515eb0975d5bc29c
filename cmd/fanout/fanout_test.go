package main

import (
	"encoding/json"
	"testing"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/common/logger"
	"github.com/runlet/engine/monitor"
)

func testClient(executionID string, buffer int) *Client {
	return &Client{executionID: executionID, send: make(chan []byte, buffer)}
}

func TestHubBroadcastsToWatchers(t *testing.T) {
	hub := NewHub(logger.NewNop())

	c1 := testClient("exec-1", 4)
	c2 := testClient("exec-1", 4)
	other := testClient("exec-2", 4)
	hub.registerClient(c1)
	hub.registerClient(c2)
	hub.registerClient(other)

	hub.publish(&Update{ExecutionID: "exec-1", Snapshot: []byte(`{"status":"running"}`)})

	assert.Equal(t, `{"status":"running"}`, string(<-c1.send))
	assert.Equal(t, `{"status":"running"}`, string(<-c2.send))
	assert.Empty(t, other.send)

	assert.Equal(t, 3, hub.ConnectionCount())
	assert.Equal(t, 2, hub.ExecutionCount())
}

func TestHubCatchesUpLateJoiners(t *testing.T) {
	hub := NewHub(logger.NewNop())

	hub.publish(&Update{ExecutionID: "exec-1", Snapshot: []byte(`{"usage":3}`)})

	late := testClient("exec-1", 4)
	hub.registerClient(late)

	require.Len(t, late.send, 1)
	assert.Equal(t, `{"usage":3}`, string(<-late.send))
}

func TestHubFinalSnapshotClearsState(t *testing.T) {
	hub := NewHub(logger.NewNop())

	watcher := testClient("exec-1", 4)
	hub.registerClient(watcher)

	hub.publish(&Update{ExecutionID: "exec-1", Snapshot: []byte(`{"final":true}`), Final: true})
	assert.Equal(t, `{"final":true}`, string(<-watcher.send))

	// Nothing left to catch a late joiner up with.
	late := testClient("exec-1", 4)
	hub.registerClient(late)
	assert.Empty(t, late.send)
}

func TestHubEvictsStalledSubscriber(t *testing.T) {
	hub := NewHub(logger.NewNop())

	stalled := testClient("exec-1", 1)
	hub.registerClient(stalled)

	hub.publish(&Update{ExecutionID: "exec-1", Snapshot: []byte(`{"n":1}`)})
	hub.publish(&Update{ExecutionID: "exec-1", Snapshot: []byte(`{"n":2}`)})

	assert.Equal(t, 0, hub.ConnectionCount())

	// The buffered frame is still readable, then the channel is closed.
	assert.Equal(t, `{"n":1}`, string(<-stalled.send))
	_, open := <-stalled.send
	assert.False(t, open)

	// A late unregister for the evicted client must not close twice.
	hub.unregisterClient(stalled)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(logger.NewNop())

	client := testClient("exec-1", 4)
	hub.registerClient(client)
	hub.unregisterClient(client)

	_, open := <-client.send
	assert.False(t, open)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Equal(t, 0, hub.ExecutionCount())
}

func frameJSON(t *testing.T, typ string, data []byte) []byte {
	t.Helper()
	payload, err := json.Marshal(monitor.Frame{Type: typ, Data: data})
	require.NoError(t, err)
	return payload
}

func TestFoldSnapshotThenDelta(t *testing.T) {
	sub := NewSubscriber(nil, NewHub(logger.NewNop()), logger.NewNop())

	first := []byte(`{"execution_id":"exec-1","status":"running","usage":1,"final":false}`)
	update, err := sub.fold("exec-1", frameJSON(t, monitor.FrameSnapshot, first))
	require.NoError(t, err)
	assert.False(t, update.Final)
	assert.JSONEq(t, string(first), string(update.Snapshot))

	second := []byte(`{"execution_id":"exec-1","status":"completed","usage":3,"final":true}`)
	delta, err := jsonpatch.CreateMergePatch(first, second)
	require.NoError(t, err)

	update, err = sub.fold("exec-1", frameJSON(t, monitor.FrameDelta, delta))
	require.NoError(t, err)
	assert.True(t, update.Final)
	assert.JSONEq(t, string(second), string(update.Snapshot))

	// The final snapshot releases the per-execution base.
	assert.NotContains(t, sub.prev, "exec-1")
}

func TestFoldDeltaWithoutBase(t *testing.T) {
	sub := NewSubscriber(nil, NewHub(logger.NewNop()), logger.NewNop())

	_, err := sub.fold("exec-1", frameJSON(t, monitor.FrameDelta, []byte(`{"usage":2}`)))
	assert.Error(t, err)
}

func TestFoldRejectsGarbage(t *testing.T) {
	sub := NewSubscriber(nil, NewHub(logger.NewNop()), logger.NewNop())

	_, err := sub.fold("exec-1", []byte("not a frame"))
	assert.Error(t, err)
}

func TestExecutionFromChannel(t *testing.T) {
	assert.Equal(t, "exec-1", executionFromChannel(monitor.ChannelFor("exec-1")))
	assert.Equal(t, "", executionFromChannel("something.else"))
}

package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/steps"
)

func TestDelayPassesValueThrough(t *testing.T) {
	nc := testNC(runtime.NodeValues{"seconds": 0.0, "value": map[string]any{"k": "v"}})
	out := runNode(t, flowDelay(), nc)
	assert.Equal(t, map[string]any{"k": "v"}, out.Values["value"])
}

func TestDelayRejectsNegativeSeconds(t *testing.T) {
	_, err := flowDelay().New().Execute(context.Background(), testNC(runtime.NodeValues{"seconds": -1.0}))
	require.Error(t, err)
	var nodeErr *runtime.NodeError
	require.ErrorAs(t, err, &nodeErr)
}

func TestDelayDurableReplaySkipsElapsedSleep(t *testing.T) {
	cache := steps.NewMemoryCache()
	sleep := runtime.NodeValues{"seconds": 0.15, "value": "x"}

	durableNC := func() *runtime.NodeContext {
		nc := testNC(sleep)
		nc.Runner = steps.NewDurable(steps.DurableOpts{Cache: cache, ExecutionID: "exec-test"})
		return nc
	}

	start := time.Now()
	out := runNode(t, flowDelay(), durableNC())
	first := time.Since(start)
	assert.Equal(t, "x", out.Values["value"])
	require.GreaterOrEqual(t, first, 140*time.Millisecond)

	// Same execution id, same cache: the recorded deadline has passed, so the
	// replayed sleep returns without waiting.
	start = time.Now()
	out = runNode(t, flowDelay(), durableNC())
	second := time.Since(start)
	assert.Equal(t, "x", out.Values["value"])
	require.Less(t, second, 100*time.Millisecond)
}

func TestDelayCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := flowDelay().New().Execute(ctx, testNC(runtime.NodeValues{"seconds": 5.0}))
	require.Error(t, err)
}

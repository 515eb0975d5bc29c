// Package steps provides the execution seam node invocations run through.
//
// A Runner either executes work directly (in-process, nothing persisted) or
// durably: each named step's serialized result is written to a cache keyed by
// execution id and step name, so a crashed execution can be replayed and
// every step that already ran returns its recorded result instead of running
// again.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Func is the unit of work a step wraps. The returned bytes must be a
// serialized value: under a durable runner they are persisted verbatim and
// handed back on replay.
type Func func(ctx context.Context) ([]byte, error)

// Runner executes named steps. Names must be unique within one execution.
type Runner interface {
	// Run executes the step or, under a durable runner that already holds a
	// recorded result for this name, returns that result without invoking fn.
	// Errors from fn are never recorded; a later attempt runs fn again.
	Run(ctx context.Context, name string, fn Func) ([]byte, error)

	// Sleep pauses for d. Durable runners record the wake deadline under the
	// given name, so a replay that reaches this sleep after the deadline has
	// passed continues immediately.
	Sleep(ctx context.Context, name string, d time.Duration) error
}

// Do runs fn as a step with JSON encoding of its result.
func Do[T any](ctx context.Context, r Runner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := r.Run(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode step %q result: %w", name, err)
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode step %q result: %w", name, err)
	}
	return out, nil
}

// Factory builds a runner bound to one execution.
type Factory func(executionID string) Runner

// DirectFactory returns a factory producing direct runners.
func DirectFactory() Factory {
	return func(string) Runner { return NewDirect() }
}

// DurableFactory returns a factory producing durable runners over the given
// cache.
func DurableFactory(cache Cache, log Logger, meter Meter) Factory {
	return func(executionID string) Runner {
		return NewDurable(DurableOpts{Cache: cache, ExecutionID: executionID, Logger: log, Meter: meter})
	}
}

// Logger is the minimal logging surface runners need.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Meter counts step outcomes. Optional; a nil Meter disables counting.
type Meter interface {
	StepRun()
	StepReplayed()
}

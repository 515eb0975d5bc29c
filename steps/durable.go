package steps

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Cache persists step results across process restarts. Implementations must
// keep entries for at least the lifetime of their execution.
type Cache interface {
	// Get returns the recorded value for a step, with found=false on a miss.
	Get(ctx context.Context, executionID, name string) (value []byte, found bool, err error)

	// Put records a step result. Later Puts for the same step may overwrite;
	// runners only ever write one value per name.
	Put(ctx context.Context, executionID, name string, value []byte) error
}

// Durable runs steps against a persisted result cache. Replaying an
// execution with the same cache returns recorded results without re-running
// their functions.
type Durable struct {
	cache       Cache
	executionID string
	log         Logger
	meter       Meter
	now         func() time.Time
}

// DurableOpts configures a durable runner.
type DurableOpts struct {
	Cache       Cache
	ExecutionID string
	Logger      Logger
	Meter       Meter
}

// NewDurable creates a durable runner bound to one execution.
func NewDurable(opts DurableOpts) *Durable {
	return &Durable{
		cache:       opts.Cache,
		executionID: opts.ExecutionID,
		log:         opts.Logger,
		meter:       opts.Meter,
		now:         time.Now,
	}
}

func (d *Durable) Run(ctx context.Context, name string, fn Func) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cached, found, err := d.cache.Get(ctx, d.executionID, name); err != nil {
		return nil, fmt.Errorf("failed to check step cache for %q: %w", name, err)
	} else if found {
		if d.log != nil {
			d.log.Debug("step replayed from cache", "step", name, "execution_id", d.executionID)
		}
		if d.meter != nil {
			d.meter.StepReplayed()
		}
		return cached, nil
	}

	out, err := fn(ctx)
	if err != nil {
		// Not recorded: a retry attempt must run fn again.
		return nil, err
	}

	if err := d.cache.Put(ctx, d.executionID, name, out); err != nil {
		return nil, fmt.Errorf("failed to record step %q result: %w", name, err)
	}
	if d.meter != nil {
		d.meter.StepRun()
	}
	return out, nil
}

func (d *Durable) Sleep(ctx context.Context, name string, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}

	key := "sleep " + name
	deadline := d.now().Add(dur)

	if cached, found, err := d.cache.Get(ctx, d.executionID, key); err != nil {
		return fmt.Errorf("failed to check sleep deadline for %q: %w", name, err)
	} else if found {
		nanos, err := strconv.ParseInt(string(cached), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt sleep deadline for %q: %w", name, err)
		}
		deadline = time.Unix(0, nanos)
	} else {
		if err := d.cache.Put(ctx, d.executionID, key, []byte(strconv.FormatInt(deadline.UnixNano(), 10))); err != nil {
			return fmt.Errorf("failed to record sleep deadline for %q: %w", name, err)
		}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		if d.log != nil {
			d.log.Debug("sleep already elapsed on replay", "step", name)
		}
		return ctx.Err()
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package steps

import (
	"context"
	"time"
)

// Direct executes steps inline with no persistence. Crash recovery re-runs
// the whole execution from scratch.
type Direct struct{}

// NewDirect creates a direct runner.
func NewDirect() *Direct {
	return &Direct{}
}

func (*Direct) Run(ctx context.Context, name string, fn Func) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx)
}

func (*Direct) Sleep(ctx context.Context, name string, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package nodes

import (
	"context"
	"time"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

const maxDelay = 300 * time.Second

// flowDelay pauses the branch it sits on, passing its input through
// untouched. The sleep goes through the execution's step runner: under a
// durable runner the wake deadline is recorded, so a replay that reaches
// this node after the deadline continues immediately instead of sleeping
// again.
func flowDelay() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "flow.delay",
		Name:        "Delay",
		Description: "Waits for a number of seconds, then passes its input through.",
		Inputs: []workflow.ParameterSpec{
			{Name: "seconds", Type: workflow.TypeNumber, Required: true},
			{Name: "value", Type: workflow.TypeJSON},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeJSON},
		},
		Usage: 1,
		Tags:  []string{"flow"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				secs, ok := nc.InputNumber("seconds")
				if !ok || secs < 0 {
					return nil, &runtime.NodeError{Message: "seconds must be a non-negative number"}
				}
				d := time.Duration(secs * float64(time.Second))
				if d > maxDelay {
					d = maxDelay
				}
				if err := nc.Runner.Sleep(ctx, "delay "+nc.NodeID, d); err != nil {
					return nil, err
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"value": nc.Inputs["value"]}}, nil
			})
		},
	}
}

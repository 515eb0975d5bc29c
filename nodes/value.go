package nodes

import (
	"context"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

func valueNumber() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "value.number",
		Name:        "Number",
		Description: "Emits a constant number.",
		Inputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeNumber, Required: true},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeNumber},
		},
		Usage: 1,
		Tags:  []string{"value"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				n, ok := nc.InputNumber("value")
				if !ok {
					return nil, &runtime.NodeError{Message: "value must be a number"}
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"value": n}}, nil
			})
		},
	}
}

func valueText() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "value.text",
		Name:        "Text",
		Description: "Emits a constant string.",
		Inputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeString, Required: true},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeString},
		},
		Usage: 1,
		Tags:  []string{"value"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				s, ok := nc.InputString("value")
				if !ok {
					return nil, &runtime.NodeError{Message: "value must be a string"}
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"value": s}}, nil
			})
		},
	}
}

package nodes

import (
	"context"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

func numericPair(nc *runtime.NodeContext) (float64, float64, error) {
	a, ok := nc.InputNumber("a")
	if !ok {
		return 0, 0, &runtime.NodeError{Message: "a must be a number"}
	}
	b, ok := nc.InputNumber("b")
	if !ok {
		return 0, 0, &runtime.NodeError{Message: "b must be a number"}
	}
	return a, b, nil
}

func arithmeticType(id, name, description string, apply func(a, b float64) (float64, error)) *runtime.NodeType {
	return &runtime.NodeType{
		Type:        id,
		Name:        name,
		Description: description,
		Inputs: []workflow.ParameterSpec{
			{Name: "a", Type: workflow.TypeNumber, Required: true},
			{Name: "b", Type: workflow.TypeNumber, Required: true},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "result", Type: workflow.TypeNumber},
		},
		Usage: 1,
		Tags:  []string{"math"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				a, b, err := numericPair(nc)
				if err != nil {
					return nil, err
				}
				result, err := apply(a, b)
				if err != nil {
					return nil, err
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"result": result}}, nil
			})
		},
	}
}

func mathAdd() *runtime.NodeType {
	return arithmeticType("math.add", "Add", "Adds two numbers.",
		func(a, b float64) (float64, error) { return a + b, nil })
}

func mathMultiply() *runtime.NodeType {
	return arithmeticType("math.multiply", "Multiply", "Multiplies two numbers.",
		func(a, b float64) (float64, error) { return a * b, nil })
}

func mathDivide() *runtime.NodeType {
	return arithmeticType("math.divide", "Divide", "Divides a by b.",
		func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, &runtime.NodeError{Message: "division by zero"}
			}
			return a / b, nil
		})
}

package nodes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

// evaluator compiles and caches CEL predicates. One evaluator backs every
// logic.condition instance in a catalog, so repeated executions of the same
// workflow reuse compiled programs.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newEvaluator() *evaluator {
	return &evaluator{cache: make(map[string]cel.Program)}
}

// eval runs a predicate against the routed value and an optional context
// map. Expressions may use JSONPath-style $.field, which is rewritten to
// value.field before compilation.
func (e *evaluator) eval(expr string, value any, extra map[string]any) (bool, error) {
	normalized := strings.ReplaceAll(expr, "$.", "value.")

	e.mu.RLock()
	prg, ok := e.cache[normalized]
	e.mu.RUnlock()

	if !ok {
		var err error
		prg, err = e.compile(normalized)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	if extra == nil {
		extra = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"value": value,
		"ctx":   extra,
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want boolean", out.Value())
	}
	return result, nil
}

func (e *evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid expression: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return prg, nil
}

// size reports the number of cached programs.
func (e *evaluator) size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// logicCondition routes its input to exactly one of two outputs. Downstream
// nodes bound to the untaken output never receive a value and are skipped as
// an untaken branch, so the catalog's conditional fan-out builds on ordinary
// data-flow starvation rather than a dedicated gating mechanism.
func logicCondition(ev *evaluator) *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "logic.condition",
		Name:        "Condition",
		Description: "Evaluates a CEL predicate and routes the input to then or else.",
		Inputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeJSON, Required: true},
			{Name: "expression", Type: workflow.TypeString, Required: true},
			{Name: "context", Type: workflow.TypeJSON},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "then", Type: workflow.TypeJSON},
			{Name: "else", Type: workflow.TypeJSON},
			{Name: "result", Type: workflow.TypeBoolean},
		},
		Usage: 1,
		Tags:  []string{"logic"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				expr, ok := nc.InputString("expression")
				if !ok || expr == "" {
					return nil, &runtime.NodeError{Message: "expression must be a non-empty string"}
				}
				value := nc.Inputs["value"]
				extra, _ := nc.Inputs["context"].(map[string]any)

				matched, err := ev.eval(expr, value, extra)
				if err != nil {
					return nil, &runtime.NodeError{Message: err.Error()}
				}
				values := runtime.NodeValues{"result": matched}
				if matched {
					values["then"] = value
				} else {
					values["else"] = value
				}
				return &runtime.NodeOutput{Values: values}, nil
			})
		},
	}
}

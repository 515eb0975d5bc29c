package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

// dataExtract pulls one field out of a JSON value by gjson path. The source
// is re-encoded before lookup, so any runtime value that survives JSON
// encoding can be queried.
func dataExtract() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "data.extract",
		Name:        "Extract",
		Description: "Extracts a field from a JSON value by path.",
		Inputs: []workflow.ParameterSpec{
			{Name: "source", Type: workflow.TypeJSON, Required: true},
			{Name: "path", Type: workflow.TypeString, Required: true},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "value", Type: workflow.TypeJSON},
		},
		Usage: 1,
		Tags:  []string{"data"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				path, ok := nc.InputString("path")
				if !ok || path == "" {
					return nil, &runtime.NodeError{Message: "path must be a non-empty string"}
				}
				encoded, err := json.Marshal(nc.Inputs["source"])
				if err != nil {
					return nil, fmt.Errorf("encode source: %w", err)
				}
				result := gjson.GetBytes(encoded, path)
				if !result.Exists() {
					return nil, &runtime.NodeError{Message: fmt.Sprintf("field not found: %s", path)}
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"value": result.Value()}}, nil
			})
		},
	}
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// dataTemplate interpolates ${path} placeholders against a JSON context.
// Scalar values substitute as-is; anything structured substitutes as its
// JSON encoding.
func dataTemplate() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "data.template",
		Name:        "Template",
		Description: "Renders a template with ${path} placeholders resolved from a JSON context.",
		Inputs: []workflow.ParameterSpec{
			{Name: "template", Type: workflow.TypeString, Required: true},
			{Name: "context", Type: workflow.TypeJSON, Required: true},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "text", Type: workflow.TypeString},
		},
		Usage: 1,
		Tags:  []string{"data"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				tmpl, ok := nc.InputString("template")
				if !ok {
					return nil, &runtime.NodeError{Message: "template must be a string"}
				}
				encoded, err := json.Marshal(nc.Inputs["context"])
				if err != nil {
					return nil, fmt.Errorf("encode context: %w", err)
				}
				text, rerr := renderTemplate(tmpl, encoded)
				if rerr != nil {
					return nil, rerr
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"text": text}}, nil
			})
		},
	}
}

func renderTemplate(tmpl string, contextJSON []byte) (string, error) {
	rendered := tmpl
	for _, match := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		placeholder, path := match[0], match[1]
		result := gjson.GetBytes(contextJSON, path)
		if !result.Exists() {
			return "", &runtime.NodeError{Message: fmt.Sprintf("field not found: %s", path)}
		}
		rendered = strings.Replace(rendered, placeholder, stringify(result), 1)
	}
	return rendered, nil
}

func stringify(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.String()
	}
	return r.Raw
}

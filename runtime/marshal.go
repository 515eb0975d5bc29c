package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/workflow"
)

// InvalidInputError reports a value that cannot be marshaled for its
// declared parameter type, including blob references the store has never
// seen.
type InvalidInputError struct {
	Param  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input %q: %s", e.Param, e.Reason)
}

// ToRuntime converts one wire value to its runtime form. Scalar and JSON
// types pass through untouched. Media types resolve a blob reference to a
// *blob.File by fetching the payload; a value that is already a *blob.File
// passes through, which makes the conversion idempotent. Sequences convert
// element-wise.
func ToRuntime(ctx context.Context, store blob.Store, typ workflow.ParamType, v Value) (Value, error) {
	if v == nil || !typ.Media() {
		return v, nil
	}

	if seq, ok := v.([]Value); ok {
		out := make([]Value, len(seq))
		for i, item := range seq {
			converted, err := ToRuntime(ctx, store, typ, item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	}

	switch f := v.(type) {
	case *blob.File:
		return f, nil
	case blob.File:
		return &f, nil
	}

	ref, ok := blob.RefFromValue(v)
	if !ok {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("expected a blob reference for %s value, got %T", typ, v)}
	}

	data, meta, err := store.Read(ctx, ref.ID)
	if err != nil {
		var notFound *blob.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("unknown blob reference %s", ref.ID)}
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", ref.ID, err)
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = ref.MimeType
	}
	filename := meta.Filename
	if filename == "" {
		filename = ref.Filename
	}
	return &blob.File{Data: data, MimeType: mimeType, Filename: filename}, nil
}

// ToWire converts one runtime value to its wire form. Media payloads are
// written to the store and replaced by their reference; a value that is
// already a reference passes through unchanged, so converting twice writes
// nothing twice. Everything else is returned as-is.
func ToWire(ctx context.Context, store blob.Store, typ workflow.ParamType, v Value, opts blob.WriteOptions) (Value, error) {
	if v == nil || !typ.Media() {
		return v, nil
	}

	if seq, ok := v.([]Value); ok {
		out := make([]Value, len(seq))
		for i, item := range seq {
			converted, err := ToWire(ctx, store, typ, item, opts)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	}

	var file *blob.File
	switch f := v.(type) {
	case *blob.File:
		file = f
	case blob.File:
		file = &f
	default:
		if ref, ok := blob.RefFromValue(v); ok {
			return ref, nil
		}
		return nil, &InvalidInputError{Reason: fmt.Sprintf("expected file data for %s value, got %T", typ, v)}
	}

	writeOpts := opts
	if writeOpts.Filename == "" {
		writeOpts.Filename = file.Filename
	}
	ref, err := store.Write(ctx, file.Data, file.MimeType, writeOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s value: %w", typ, err)
	}
	return ref, nil
}

// MarshalInputs converts a node's gathered wire inputs to runtime form,
// using each parameter's declared type. Values without a declaration pass
// through untouched.
func MarshalInputs(ctx context.Context, store blob.Store, node *workflow.NodeSpec, values NodeValues) (NodeValues, error) {
	out := make(NodeValues, len(values))
	for name, v := range values {
		typ := workflow.TypeJSON
		if p, ok := node.Input(name); ok {
			typ = p.Type
		}
		converted, err := ToRuntime(ctx, store, typ, v)
		if err != nil {
			var invalid *InvalidInputError
			if errors.As(err, &invalid) && invalid.Param == "" {
				invalid.Param = name
			}
			return nil, err
		}
		out[name] = converted
	}
	return out, nil
}

// MarshalOutputs converts a node's runtime outputs to wire form, writing
// media payloads to the store under the execution's attribution.
func MarshalOutputs(ctx context.Context, store blob.Store, node *workflow.NodeSpec, values NodeValues, opts blob.WriteOptions) (NodeValues, error) {
	out := make(NodeValues, len(values))
	for name, v := range values {
		typ := workflow.TypeJSON
		if p, ok := node.Output(name); ok {
			typ = p.Type
		}
		converted, err := ToWire(ctx, store, typ, v, opts)
		if err != nil {
			var invalid *InvalidInputError
			if errors.As(err, &invalid) && invalid.Param == "" {
				invalid.Param = name
			}
			return nil, err
		}
		out[name] = converted
	}
	return out, nil
}

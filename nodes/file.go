package nodes

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

const (
	defaultPresignExpiry = 15 * time.Minute
	maxPresignExpiry     = 24 * time.Hour
)

// fileStore turns inline content into a stored object. The returned file is
// written to the object store by output marshaling, so downstream nodes and
// persisted state see a reference, never the payload.
func fileStore() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "file.store",
		Name:        "Store File",
		Description: "Stores text or base64 content as an object.",
		Inputs: []workflow.ParameterSpec{
			{Name: "content", Type: workflow.TypeString, Required: true},
			{Name: "mime_type", Type: workflow.TypeString},
			{Name: "filename", Type: workflow.TypeString},
			{Name: "base64", Type: workflow.TypeBoolean},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "file", Type: workflow.TypeBlob},
		},
		Usage: 1,
		Tags:  []string{"file"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				content, ok := nc.InputString("content")
				if !ok {
					return nil, &runtime.NodeError{Message: "content must be a string"}
				}
				data := []byte(content)
				if encoded, _ := nc.InputBool("base64"); encoded {
					decoded, err := base64.StdEncoding.DecodeString(content)
					if err != nil {
						return nil, &runtime.NodeError{Message: fmt.Sprintf("invalid base64 content: %v", err)}
					}
					data = decoded
				}
				mime, _ := nc.InputString("mime_type")
				if mime == "" {
					mime = "text/plain"
				}
				filename, _ := nc.InputString("filename")
				file := &blob.File{Data: data, MimeType: mime, Filename: filename}
				return &runtime.NodeOutput{Values: runtime.NodeValues{"file": file}}, nil
			})
		},
	}
}

// fileFetch exposes a stored object's payload to the data-flow side:
// content as text when the payload is valid UTF-8, always as base64.
func fileFetch() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "file.fetch",
		Name:        "Fetch File",
		Description: "Reads a stored object and returns its content.",
		Inputs: []workflow.ParameterSpec{
			{Name: "file", Type: workflow.TypeBlob, Required: true},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "content", Type: workflow.TypeString},
			{Name: "base64", Type: workflow.TypeString},
			{Name: "mime_type", Type: workflow.TypeString},
			{Name: "size", Type: workflow.TypeNumber},
		},
		Usage: 1,
		Tags:  []string{"file"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				file, ok := nc.InputFile("file")
				if !ok {
					return nil, &runtime.NodeError{Message: "file input is not a stored object"}
				}
				content := ""
				if utf8.Valid(file.Data) {
					content = string(file.Data)
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{
					"content":   content,
					"base64":    base64.StdEncoding.EncodeToString(file.Data),
					"mime_type": file.MimeType,
					"size":      file.Size(),
				}}, nil
			})
		},
	}
}

// filePresign issues an expiring download URL for an object reference. The
// input is json-typed so both upstream record values and literal ref maps
// work.
func filePresign() *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "file.presign",
		Name:        "Presign File",
		Description: "Returns an expiring download URL for a stored object.",
		Inputs: []workflow.ParameterSpec{
			{Name: "ref", Type: workflow.TypeJSON, Required: true},
			{Name: "expiry_seconds", Type: workflow.TypeNumber},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "url", Type: workflow.TypeString},
			{Name: "id", Type: workflow.TypeString},
		},
		Usage: 1,
		Tags:  []string{"file"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				ref, ok := blob.RefFromValue(nc.Inputs["ref"])
				if !ok {
					return nil, &runtime.NodeError{Message: "ref is not an object reference"}
				}
				expiry := defaultPresignExpiry
				if secs, ok := nc.InputNumber("expiry_seconds"); ok && secs > 0 {
					expiry = time.Duration(secs * float64(time.Second))
					if expiry > maxPresignExpiry {
						expiry = maxPresignExpiry
					}
				}
				url, err := nc.Store.Presign(ctx, ref.ID, expiry)
				if err != nil {
					return nil, fmt.Errorf("presign %s: %w", ref.ID, err)
				}
				return &runtime.NodeOutput{Values: runtime.NodeValues{
					"url": url,
					"id":  ref.ID,
				}}, nil
			})
		},
	}
}

package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

const (
	httpDefaultTimeout = 30 * time.Second
	httpMaxTimeout     = 120 * time.Second
	httpMaxBodyBytes   = 10 << 20
)

// httpRequest performs one outbound HTTP call. Non-2xx responses are still
// successful node outputs; only transport failures and screening rejections
// fail the node. When integration_id names a stored integration, its token
// is sent as the request credential.
func httpRequest(cfg Config) *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "http.request",
		Name:        "HTTP Request",
		Description: "Calls an external HTTP endpoint and returns the structured response.",
		Inputs: []workflow.ParameterSpec{
			{Name: "url", Type: workflow.TypeString, Required: true},
			{Name: "method", Type: workflow.TypeString},
			{Name: "headers", Type: workflow.TypeJSON},
			{Name: "body", Type: workflow.TypeString},
			{Name: "timeout_seconds", Type: workflow.TypeNumber},
			{Name: "integration_id", Type: workflow.TypeString},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "status", Type: workflow.TypeString},
			{Name: "status_code", Type: workflow.TypeNumber},
			{Name: "headers", Type: workflow.TypeJSON},
			{Name: "body", Type: workflow.TypeJSON},
			{Name: "duration_ms", Type: workflow.TypeNumber},
		},
		Usage: 2,
		Tags:  []string{"http", "integration"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				target, ok := nc.InputString("url")
				if !ok || target == "" {
					return nil, &runtime.NodeError{Message: "url must be a non-empty string"}
				}
				if cfg.Guard != nil {
					if err := cfg.Guard.CheckURL(target); err != nil {
						return nil, &runtime.NodeError{Message: fmt.Sprintf("url rejected: %v", err)}
					}
				}

				method := "GET"
				if m, ok := nc.InputString("method"); ok && m != "" {
					method = strings.ToUpper(m)
				}
				var body io.Reader
				if payload, ok := nc.InputString("body"); ok && payload != "" {
					body = strings.NewReader(payload)
				}

				timeout := httpDefaultTimeout
				if secs, ok := nc.InputNumber("timeout_seconds"); ok && secs > 0 {
					timeout = time.Duration(secs * float64(time.Second))
					if timeout > httpMaxTimeout {
						timeout = httpMaxTimeout
					}
				}
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				req, err := http.NewRequestWithContext(ctx, method, target, body)
				if err != nil {
					return nil, &runtime.NodeError{Message: fmt.Sprintf("invalid request: %v", err)}
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("User-Agent", "runlet-engine/1.0")
				if id, ok := nc.InputString("integration_id"); ok && id != "" {
					in, err := nc.Integration(ctx, id)
					if err != nil {
						return nil, &runtime.NodeError{Message: fmt.Sprintf("integration unavailable: %v", err)}
					}
					authorize(req, in)
				}
				// Explicit headers win over defaults and the integration
				// credential.
				if hdrs, ok := nc.Inputs["headers"].(map[string]any); ok {
					for name, v := range hdrs {
						if s, ok := v.(string); ok {
							req.Header.Set(name, s)
						}
					}
				}

				start := time.Now()
				resp, err := cfg.HTTPClient.Do(req)
				if err != nil {
					return nil, &runtime.NodeError{Message: fmt.Sprintf("request failed: %v", err)}
				}
				defer resp.Body.Close()

				respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxBodyBytes))
				if err != nil {
					return nil, &runtime.NodeError{Message: fmt.Sprintf("read response: %v", err)}
				}
				duration := time.Since(start)

				// JSON responses come back structured, everything else as a
				// plain string.
				var parsed any
				if err := json.Unmarshal(respBody, &parsed); err != nil {
					parsed = string(respBody)
				}
				headers := make(map[string]any, len(resp.Header))
				for name := range resp.Header {
					headers[name] = resp.Header.Get(name)
				}

				return &runtime.NodeOutput{Values: runtime.NodeValues{
					"status":      "success",
					"status_code": resp.StatusCode,
					"headers":     headers,
					"body":        parsed,
					"duration_ms": duration.Milliseconds(),
				}}, nil
			})
		},
	}
}

// authorize applies a stored integration's credential to the request. The
// default is a bearer Authorization header; metadata can name a different
// header (the token is then sent raw) or a different scheme.
func authorize(req *http.Request, in *runtime.Integration) {
	if name := in.Metadata["header"]; name != "" {
		req.Header.Set(name, in.Token)
		return
	}
	scheme := in.Metadata["scheme"]
	if scheme == "" {
		scheme = "Bearer"
	}
	req.Header.Set("Authorization", scheme+" "+in.Token)
}

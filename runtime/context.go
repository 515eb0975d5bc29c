package runtime

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/common/models"
	"github.com/runlet/engine/steps"
	"github.com/runlet/engine/workflow"
)

// Execution modes. Dev mode relaxes the credit and subscription gates.
const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

// ExecutionContext is the immutable identity of one execution: the planned
// workflow plus who is running it. It is created at run entry and never
// mutated; the evolving part of an execution lives in State.
type ExecutionContext struct {
	Workflow *workflow.Workflow
	Plan     *workflow.ExecutionPlan

	WorkflowID     string
	ExecutionID    string
	OrganizationID string
	UserID         string
	DeploymentID   string

	SubscriptionStatus string
	Visibility         models.Visibility
	Monitor            bool
	StartedAt          time.Time
}

// Logger is the minimal logging surface the runtime needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// SecretProvider resolves named secrets for node implementations. A missing
// secret returns an error wrapping ErrSecretNotFound.
type SecretProvider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// ErrSecretNotFound marks a lookup of an unconfigured secret.
var ErrSecretNotFound = fmt.Errorf("secret not found")

// Integration is a stored third-party connection a node may act through.
type Integration struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Token    string            `json:"token"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IntegrationProvider resolves integrations by id. A missing integration
// returns an error wrapping ErrIntegrationNotFound.
type IntegrationProvider interface {
	Integration(ctx context.Context, id string) (*Integration, error)
}

// ErrIntegrationNotFound marks a lookup of an unknown integration.
var ErrIntegrationNotFound = fmt.Errorf("integration not found")

// ToolInvoker lets a node call another registered node type as a tool. The
// call runs in-process with runtime-form values on both sides; it does not
// create a durable step and its usage is the calling node's to report.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, typeID string, inputs NodeValues) (NodeValues, error)
}

// NodeContext is everything one node invocation sees. It is built per node,
// never shared, and must not be retained after Execute returns.
type NodeContext struct {
	NodeID         string
	WorkflowID     string
	ExecutionID    string
	OrganizationID string
	UserID         string

	// Mode is "dev" or "prod".
	Mode string

	// Inputs in runtime form: media parameters are *blob.File, everything
	// else is plain JSON values. Variadic inputs are []Value.
	Inputs NodeValues

	// Env carries provider-defined settings such as default model names.
	Env map[string]string

	// Store is the shared object store for reading and writing payloads
	// beyond what input/output marshaling already covers.
	Store blob.Store

	// Runner executes nested durable steps and sleeps. Under a direct
	// runner these run inline.
	Runner steps.Runner

	// Tools invokes other registered node types in-process. Nil when the
	// runtime was built without tool support.
	Tools ToolInvoker

	// OnProgress reports completion in [0,1]. Optional, may be nil.
	OnProgress func(fraction float64)

	Log Logger

	secrets      SecretProvider
	integrations IntegrationProvider
}

// Secret resolves a named secret, or an error wrapping ErrSecretNotFound.
func (nc *NodeContext) Secret(ctx context.Context, name string) (string, error) {
	if nc.secrets == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return nc.secrets.Secret(ctx, name)
}

// Integration resolves a stored integration by id.
func (nc *NodeContext) Integration(ctx context.Context, id string) (*Integration, error) {
	if nc.integrations == nil {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, id)
	}
	return nc.integrations.Integration(ctx, id)
}

// Progress reports progress if a callback is attached.
func (nc *NodeContext) Progress(fraction float64) {
	if nc.OnProgress != nil {
		nc.OnProgress(fraction)
	}
}

// InputString returns a string input, with ok=false when absent or not a
// string.
func (nc *NodeContext) InputString(name string) (string, bool) {
	s, ok := nc.Inputs[name].(string)
	return s, ok
}

// InputNumber returns a numeric input. JSON numbers arrive as float64;
// integer values that crossed a typed boundary are accepted too.
func (nc *NodeContext) InputNumber(name string) (float64, bool) {
	switch n := nc.Inputs[name].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// InputBool returns a boolean input.
func (nc *NodeContext) InputBool(name string) (bool, bool) {
	b, ok := nc.Inputs[name].(bool)
	return b, ok
}

// InputFile returns a media input as a *blob.File.
func (nc *NodeContext) InputFile(name string) (*blob.File, bool) {
	f, ok := nc.Inputs[name].(*blob.File)
	return f, ok
}

// StaticSecrets is a fixed in-memory SecretProvider for tests and dev mode.
type StaticSecrets map[string]string

func (s StaticSecrets) Secret(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// EnvSecrets resolves secrets from process environment variables. The
// secret name is upper-cased, dashes become underscores, and the prefix is
// prepended: with prefix "SECRET_", "openai-api-key" reads
// SECRET_OPENAI_API_KEY.
type EnvSecrets struct {
	Prefix string
}

func (e EnvSecrets) Secret(ctx context.Context, name string) (string, error) {
	key := e.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// StaticIntegrations is a fixed in-memory IntegrationProvider for tests and
// dev mode.
type StaticIntegrations map[string]*Integration

func (s StaticIntegrations) Integration(ctx context.Context, id string) (*Integration, error) {
	in, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, id)
	}
	cp := *in
	return &cp, nil
}

// Package nodes ships the builtin node catalog: constant values, arithmetic,
// CEL-routed branching, JSON extraction and templating, outbound HTTP, chat
// completion, durable delays, and object store round-trips.
//
// The catalog is assembled once at process start:
//
//	reg, err := nodes.Registry(nodes.Config{Guard: security.NewGuard()})
//
// and handed to the runtime. Node type ids are namespaced by concern
// (value.*, math.*, logic.*, data.*, http.*, ai.*, flow.*, file.*).
package nodes

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/runlet/engine/nodes/security"
	"github.com/runlet/engine/runtime"
)

// ChatCompleter is the subset of the go-openai client ai.generate needs.
// Tests substitute a fake; production passes nil and lets the node build a
// client from the configured secret.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config carries the collaborators catalog nodes depend on. The zero value
// works: a default HTTP client is used, outbound screening is off, and chat
// clients are built per call from the openai-api-key secret.
type Config struct {
	// HTTPClient performs http.request calls. Nil selects a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Guard screens http.request targets before any connection is made.
	// Nil disables screening; production deployments should set it.
	Guard *security.Guard

	// Chat overrides the ai.generate backend.
	Chat ChatCompleter

	// DefaultModel is the chat model used when neither the node input nor
	// the environment names one.
	DefaultModel string
}

// Builtin returns the full catalog wired against cfg, in stable order.
func Builtin(cfg Config) []*runtime.NodeType {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return []*runtime.NodeType{
		valueNumber(),
		valueText(),
		mathAdd(),
		mathMultiply(),
		mathDivide(),
		logicCondition(newEvaluator()),
		dataExtract(),
		dataTemplate(),
		httpRequest(cfg),
		aiGenerate(cfg),
		flowDelay(),
		fileStore(),
		fileFetch(),
		filePresign(),
	}
}

// Registry builds a runtime registry holding the builtin catalog.
func Registry(cfg Config) (*runtime.Registry, error) {
	return runtime.NewRegistry(Builtin(cfg)...)
}

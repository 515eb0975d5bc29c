package nodes

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/workflow"
)

// APIKeySecret is the secret name ai.generate resolves its key from.
const APIKeySecret = "openai-api-key"

const fallbackModel = "gpt-4o-mini"

// aiGenerate runs one chat completion. Usage is token-derived: one credit
// per started thousand tokens, never less than one. Subscription-gated
// because completions bill real money.
func aiGenerate(cfg Config) *runtime.NodeType {
	return &runtime.NodeType{
		Type:        "ai.generate",
		Name:        "Generate Text",
		Description: "Generates text with a chat completion model.",
		Inputs: []workflow.ParameterSpec{
			{Name: "prompt", Type: workflow.TypeString, Required: true},
			{Name: "system", Type: workflow.TypeString},
			{Name: "model", Type: workflow.TypeString},
			{Name: "temperature", Type: workflow.TypeNumber},
			{Name: "max_tokens", Type: workflow.TypeNumber},
		},
		Outputs: []workflow.ParameterSpec{
			{Name: "text", Type: workflow.TypeString},
			{Name: "model", Type: workflow.TypeString},
			{Name: "total_tokens", Type: workflow.TypeNumber},
		},
		Usage:                10,
		RequiresSubscription: true,
		Tags:                 []string{"ai"},
		New: func() runtime.Node {
			return runtime.NodeFunc(func(ctx context.Context, nc *runtime.NodeContext) (*runtime.NodeOutput, error) {
				prompt, ok := nc.InputString("prompt")
				if !ok || strings.TrimSpace(prompt) == "" {
					return nil, &runtime.NodeError{Message: "prompt must be a non-empty string"}
				}

				chat := cfg.Chat
				if chat == nil {
					built, err := chatFromSecrets(ctx, nc)
					if err != nil {
						return nil, err
					}
					chat = built
				}

				req := openai.ChatCompletionRequest{
					Model:    resolveModel(nc, cfg),
					Messages: buildMessages(nc, prompt),
				}
				if temp, ok := nc.InputNumber("temperature"); ok {
					req.Temperature = float32(temp)
				}
				if maxTokens, ok := nc.InputNumber("max_tokens"); ok && maxTokens > 0 {
					req.MaxTokens = int(maxTokens)
				}

				resp, err := chat.CreateChatCompletion(ctx, req)
				if err != nil {
					return nil, &runtime.NodeError{Message: fmt.Sprintf("chat completion failed: %v", err)}
				}
				if len(resp.Choices) == 0 {
					return nil, &runtime.NodeError{Message: "model returned no choices"}
				}

				return &runtime.NodeOutput{
					Values: runtime.NodeValues{
						"text":         resp.Choices[0].Message.Content,
						"model":        resp.Model,
						"total_tokens": resp.Usage.TotalTokens,
					},
					Usage: tokenCredits(resp.Usage.TotalTokens),
				}, nil
			})
		},
	}
}

// chatFromSecrets builds a client for this invocation. The base URL is
// overridable through the environment so tests and proxy deployments can
// point the node elsewhere.
func chatFromSecrets(ctx context.Context, nc *runtime.NodeContext) (ChatCompleter, error) {
	key, err := nc.Secret(ctx, APIKeySecret)
	if err != nil {
		return nil, &runtime.NodeError{Message: fmt.Sprintf("api key unavailable: %v", err)}
	}
	clientCfg := openai.DefaultConfig(key)
	if base := nc.Env["OPENAI_BASE_URL"]; base != "" {
		clientCfg.BaseURL = base
	}
	return openai.NewClientWithConfig(clientCfg), nil
}

func resolveModel(nc *runtime.NodeContext, cfg Config) string {
	if m, ok := nc.InputString("model"); ok && m != "" {
		return m
	}
	if m := nc.Env["OPENAI_MODEL"]; m != "" {
		return m
	}
	if cfg.DefaultModel != "" {
		return cfg.DefaultModel
	}
	return fallbackModel
}

func buildMessages(nc *runtime.NodeContext, prompt string) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if system, ok := nc.InputString("system"); ok && system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}

// tokenCredits converts raw token counts to compute credits, rounding up.
func tokenCredits(totalTokens int) int64 {
	credits := int64((totalTokens + 999) / 1000)
	if credits < 1 {
		credits = 1
	}
	return credits
}

package nodes

import (
	"context"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/runtime"
)

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return f.resp, nil
}

func chatResponse(text string, totalTokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}},
		},
		Usage: openai.Usage{PromptTokens: totalTokens / 2, CompletionTokens: totalTokens / 2, TotalTokens: totalTokens},
	}
}

func TestGenerateText(t *testing.T) {
	fake := &fakeChat{resp: chatResponse("three lines about rain", 2500)}
	nt := aiGenerate(Config{Chat: fake})
	nc := testNC(runtime.NodeValues{
		"prompt":      "write a haiku",
		"system":      "be brief",
		"model":       "gpt-test",
		"temperature": 0.2,
		"max_tokens":  64,
	})
	out := runNode(t, nt, nc)

	assert.Equal(t, "three lines about rain", out.Values["text"])
	assert.Equal(t, "gpt-4o-mini", out.Values["model"])
	assert.Equal(t, 2500, out.Values["total_tokens"])
	assert.Equal(t, int64(3), out.Usage, "2500 tokens round up to 3 credits")

	assert.Equal(t, "gpt-test", fake.req.Model)
	require.Len(t, fake.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.req.Messages[0].Role)
	assert.Equal(t, "be brief", fake.req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, fake.req.Messages[1].Role)
	assert.Equal(t, "write a haiku", fake.req.Messages[1].Content)
	assert.InDelta(t, 0.2, fake.req.Temperature, 1e-6)
	assert.Equal(t, 64, fake.req.MaxTokens)
}

func TestGenerateModelPrecedence(t *testing.T) {
	run := func(cfg Config, env map[string]string, inputModel string) string {
		fake := &fakeChat{resp: chatResponse("ok", 100)}
		cfg.Chat = fake
		inputs := runtime.NodeValues{"prompt": "hi"}
		if inputModel != "" {
			inputs["model"] = inputModel
		}
		nc := testNC(inputs)
		if env != nil {
			nc.Env = env
		}
		runNode(t, aiGenerate(cfg), nc)
		return fake.req.Model
	}

	assert.Equal(t, "from-input", run(Config{DefaultModel: "from-config"}, map[string]string{"OPENAI_MODEL": "from-env"}, "from-input"))
	assert.Equal(t, "from-env", run(Config{DefaultModel: "from-config"}, map[string]string{"OPENAI_MODEL": "from-env"}, ""))
	assert.Equal(t, "from-config", run(Config{DefaultModel: "from-config"}, nil, ""))
	assert.Equal(t, fallbackModel, run(Config{}, nil, ""))
}

func TestGenerateUsageNeverBelowOne(t *testing.T) {
	fake := &fakeChat{resp: chatResponse("ok", 10)}
	out := runNode(t, aiGenerate(Config{Chat: fake}), testNC(runtime.NodeValues{"prompt": "hi"}))
	assert.Equal(t, int64(1), out.Usage)
}

func TestGenerateAPIFailure(t *testing.T) {
	fake := &fakeChat{err: fmt.Errorf("rate limited")}
	_, err := aiGenerate(Config{Chat: fake}).New().Execute(context.Background(), testNC(runtime.NodeValues{"prompt": "hi"}))
	require.Error(t, err)
	var nodeErr *runtime.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Message, "rate limited")
}

func TestGenerateNoChoices(t *testing.T) {
	fake := &fakeChat{resp: openai.ChatCompletionResponse{}}
	_, err := aiGenerate(Config{Chat: fake}).New().Execute(context.Background(), testNC(runtime.NodeValues{"prompt": "hi"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestGenerateMissingAPIKey(t *testing.T) {
	// No Chat override and no secret provider on the context.
	_, err := aiGenerate(Config{}).New().Execute(context.Background(), testNC(runtime.NodeValues{"prompt": "hi"}))
	require.Error(t, err)
	var nodeErr *runtime.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Contains(t, nodeErr.Message, "api key unavailable")
}

func TestGenerateRejectsBlankPrompt(t *testing.T) {
	fake := &fakeChat{resp: chatResponse("ok", 100)}
	_, err := aiGenerate(Config{Chat: fake}).New().Execute(context.Background(), testNC(runtime.NodeValues{"prompt": "   "}))
	require.Error(t, err)
}

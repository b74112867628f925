// Package openai adapts the OpenAI Chat Completions API
// (github.com/openai/openai-go) to the same two abstract model boundaries
// modelhandle/anthropic adapts Claude to: nodeexec.ModelHandle for
// llm-completion's plain token stream, and modelhandle.Turner for the
// agent node's tool-calling loop. It exists to demonstrate that
// modelhandle.Engine's tool loop and Run Control's approval-suspend
// contract are provider-agnostic.
//
// Unlike modelhandle/anthropic, no file anywhere in this codebase's
// reference corpus imports github.com/openai/openai-go — it appears only
// in go.mod/go.sum manifests as a transitive dependency declaration, never
// in code that calls it. This adapter is written from the OpenAI Go SDK's
// public Chat Completions surface (client.Chat.Completions.New/
// NewStreaming, openai.ChatCompletionNewParams, the
// openai.ChatCompletionMessageParamUnion constructors, tool_calls on the
// response message) rather than an in-pack example; see DESIGN.md.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/covalt-run/flowruntime/modelhandle"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// ChatClient captures the subset of the OpenAI SDK client this adapter
// calls, satisfied by the real client's Chat.Completions service, so
// tests can substitute a fake instead of issuing real HTTP calls.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures default call parameters applied when a request
// doesn't specify them.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements nodeexec.ModelHandle and modelhandle.Turner over one
// configured OpenAI chat model.
type Client struct {
	chat  ChatClient
	model string
	opts  Options
}

var (
	_ nodeexec.ModelHandle = (*Client)(nil)
	_ modelhandle.Turner   = (*Client)(nil)
)

// New builds a Client from an already-constructed chat completions client
// (or a fake satisfying ChatClient, for tests).
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Client{chat: chat, model: opts.DefaultModel, opts: opts}, nil
}

// NewFromAPIKey constructs a Client from an OpenAI API key, reading
// remaining HTTP defaults from the environment via openai.NewClient.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Stream implements nodeexec.ModelHandle for the llm-completion node.
func (c *Client) Stream(ctx context.Context, prompt string, opts nodeexec.ModelCallOptions) (<-chan nodeexec.ModelToken, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if mt := c.effectiveMaxTokens(opts.MaxTokens); mt > 0 {
		params.MaxTokens = openai.Int(int64(mt))
	}
	if t := c.effectiveTemperature(opts.Temperature); t > 0 {
		params.Temperature = openai.Float(t)
	}

	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: chat completions stream: %w", err)
	}

	out := make(chan nodeexec.ModelToken, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- nodeexec.ModelToken{Text: delta}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Choices[0].FinishReason != "" {
				out <- nodeexec.ModelToken{Done: true}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- nodeexec.ModelToken{Err: err}
			return
		}
		out <- nodeexec.ModelToken{Done: true}
	}()
	return out, nil
}

// Turn implements modelhandle.Turner for the agent node: one non-streaming
// Chat Completions call, reporting the assistant's message content to
// onText and translating any tool_calls into ToolCallRequests.
func (c *Client) Turn(ctx context.Context, turn modelhandle.Turn, onText func(string)) (modelhandle.TurnResult, error) {
	params, err := c.prepareTurn(turn)
	if err != nil {
		return modelhandle.TurnResult{}, err
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return modelhandle.TurnResult{}, fmt.Errorf("openai: chat completions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return modelhandle.TurnResult{}, errors.New("openai: response had no choices")
	}

	choice := resp.Choices[0]
	result := modelhandle.TurnResult{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, modelhandle.ToolCallRequest{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: decodeToolArgs(call.Function.Arguments),
		})
	}
	if result.Text != "" {
		onText(result.Text)
	}
	return result, nil
}

func (c *Client) prepareTurn(turn modelhandle.Turn) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turn.History)+2)
	if turn.Instructions != "" {
		messages = append(messages, openai.SystemMessage(turn.Instructions))
	}
	for _, m := range turn.History {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "user":
			messages = append(messages, openai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	if turn.Message != "" {
		messages = append(messages, openai.UserMessage(turn.Message))
	}
	if len(messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{Model: c.model, Messages: messages}
	if t := c.effectiveTemperature(turn.Temperature); t > 0 {
		params.Temperature = openai.Float(t)
	}
	if mt := c.effectiveMaxTokens(nil); mt > 0 {
		params.MaxTokens = openai.Int(int64(mt))
	}
	if len(turn.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(turn.Tools))
		for _, d := range turn.Tools {
			fn := openai.FunctionDefinitionParam{Name: d.Name}
			if d.Description != "" {
				fn.Description = openai.String(d.Description)
			}
			if d.InputSchema != nil {
				fn.Parameters = openai.FunctionParameters(d.InputSchema)
			}
			tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
		}
		params.Tools = tools
	}
	return params, nil
}

func (c *Client) effectiveMaxTokens(requested *int) int {
	if requested != nil && *requested > 0 {
		return *requested
	}
	return c.opts.MaxTokens
}

func (c *Client) effectiveTemperature(requested *float64) float64 {
	if requested != nil && *requested > 0 {
		return *requested
	}
	return c.opts.Temperature
}

func decodeToolArgs(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// Package anthropic adapts the Anthropic Claude Messages API
// (github.com/anthropics/anthropic-sdk-go) to this runtime's two abstract
// model boundaries: nodeexec.ModelHandle for the llm-completion node's
// plain token stream, and modelhandle.Turner for the agent node's
// tool-calling loop (driven through modelhandle.Engine).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/covalt-run/flowruntime/modelhandle"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter calls, satisfied by *sdk.MessageService, so tests can substitute
// a fake instead of issuing real HTTP calls.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures default call parameters applied when a request
// doesn't specify them.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements nodeexec.ModelHandle and modelhandle.Turner over one
// configured Claude model.
type Client struct {
	msg   MessagesClient
	model string
	opts  Options
}

var (
	_ nodeexec.ModelHandle = (*Client)(nil)
	_ modelhandle.Turner   = (*Client)(nil)
)

// New builds a Client from an already-constructed Anthropic client (or a
// fake satisfying MessagesClient, for tests).
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Client{msg: msg, model: opts.DefaultModel, opts: opts}, nil
}

// NewFromAPIKey constructs a Client from an Anthropic API key, reading
// remaining HTTP defaults from the environment via sdk.NewClient.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{DefaultModel: defaultModel})
}

// Stream implements nodeexec.ModelHandle for the llm-completion node: a
// single user message, no tools, incremental text back over the returned
// channel.
func (c *Client) Stream(ctx context.Context, prompt string, opts nodeexec.ModelCallOptions) (<-chan nodeexec.ModelToken, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.effectiveMaxTokens(opts.MaxTokens)),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if t := c.effectiveTemperature(opts.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}

	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: messages.new stream: %w", err)
	}

	out := make(chan nodeexec.ModelToken, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
					select {
					case out <- nodeexec.ModelToken{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case sdk.MessageStopEvent:
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
// Messages.New call (tool-calling agent turns need the complete response
// to decide on tool execution before continuing, unlike llm-completion's
// plain token stream), reporting the whole response text to onText once
// complete since Anthropic doesn't deliver text separately from tool_use
// blocks in the non-streaming response.
func (c *Client) Turn(ctx context.Context, turn modelhandle.Turn, onText func(string)) (modelhandle.TurnResult, error) {
	params, err := c.prepareTurn(turn)
	if err != nil {
		return modelhandle.TurnResult{}, err
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return modelhandle.TurnResult{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var result modelhandle.TurnResult
	result.StopReason = string(msg.StopReason)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, modelhandle.ToolCallRequest{
				ID:   block.ID,
				Name: block.Name,
				Args: decodeToolInput(block.Input),
			})
		}
	}
	if result.Text != "" {
		onText(result.Text)
	}
	return result, nil
}

func (c *Client) prepareTurn(turn modelhandle.Turn) (sdk.MessageNewParams, error) {
	messages := make([]sdk.MessageParam, 0, len(turn.History)+1)
	for _, m := range turn.History {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "user":
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if turn.Message != "" {
		messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(turn.Message)))
	}
	if len(messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: at least one message is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.effectiveMaxTokens(nil)),
		Messages:  messages,
	}
	if turn.Instructions != "" {
		params.System = []sdk.TextBlockParam{{Text: turn.Instructions}}
	}
	if t := c.effectiveTemperature(turn.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if len(turn.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(turn.Tools))
		for _, d := range turn.Tools {
			schema := sdk.ToolInputSchemaParam{}
			if d.InputSchema != nil {
				schema.ExtraFields = d.InputSchema
			}
			u := sdk.ToolUnionParamOfTool(schema, d.Name)
			if u.OfTool != nil && d.Description != "" {
				u.OfTool.Description = sdk.String(d.Description)
			}
			tools = append(tools, u)
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

func decodeToolInput(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(input, &out); err != nil {
		return nil
	}
	return out
}

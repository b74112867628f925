package builtin

import (
	"context"

	"github.com/covalt-run/flowruntime/datamodel"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// webhookPayload is the FlowContext.State shape the dispatcher (see
// routeindex.Dispatcher) attaches for a webhook-triggered run: the
// parsed request body merged with method/headers/query metadata.
type webhookPayload interface {
	WebhookPayload() map[string]any
}

// WebhookTrigger produces the trigger payload at flow entry, read off
// the run's shared state (populated by the HTTP dispatcher).
type WebhookTrigger struct{}

func (WebhookTrigger) NodeType() string { return "webhook-trigger" }

func (WebhookTrigger) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	var payload map[string]any
	if wp, ok := fctx.State.(webhookPayload); ok {
		payload = wp.WebhookPayload()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"output": datamodel.New(datamodel.TypeData, payload),
		},
	}, nil
}

// WebhookEnd builds the HTTP response the dispatcher returns for
// a request/response-mode webhook call: status, headers, and body from
// the flow's terminal output.
type WebhookEnd struct{}

func (WebhookEnd) NodeType() string { return "webhook-end" }

func (WebhookEnd) Execute(ctx context.Context, data map[string]any, inputs map[string]datamodel.DataValue, fctx nodeexec.FlowContext) (datamodel.ExecutionResult, error) {
	// A wired "body" input wins; an inline data["body"] serves flows
	// whose webhook-end is configured with a fixed response payload.
	var body any
	if in, ok := inputs["body"]; ok {
		body = in.Value
	} else if inline, ok := data["body"]; ok {
		body = inline
	}

	status := 200
	if raw, ok := data["status"]; ok {
		switch v := raw.(type) {
		case int:
			status = v
		case float64:
			status = int(v)
		}
	}

	headers, _ := data["headers"].(map[string]any)
	if headers == nil {
		headers = map[string]any{}
	}

	return datamodel.ExecutionResult{
		Outputs: map[string]datamodel.DataValue{
			"response": datamodel.New(datamodel.TypeData, map[string]any{
				"body":    body,
				"status":  status,
				"headers": headers,
			}),
		},
	}, nil
}

// Package chat runs assistant turns against the Anthropic API, letting the
// model pick tools from the server catalog and returning the calls it made
// so the front end can open hosted applications for them.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/appbridge/core/logx"
	"github.com/gaspardpetit/appbridge/internal/metrics"
	"github.com/gaspardpetit/appbridge/internal/tools"
)

const maxTurns = 5

// toolInvocation is the single orchestrator tool the model calls; the schema
// is reflected from this struct.
type toolInvocation struct {
	Name      string         `json:"name" jsonschema:"required,description=The catalog tool to invoke."`
	Arguments map[string]any `json:"arguments" jsonschema:"description=Arguments for the tool, matching its input schema."`
}

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	Name      string              `json:"name"`
	Arguments map[string]any      `json:"arguments,omitempty"`
	Result    *mcp.CallToolResult `json:"result,omitempty"`
}

// Turn is the outcome of one user prompt.
type Turn struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Agent drives the conversation loop.
type Agent struct {
	client  *anthropic.Client
	model   string
	catalog *tools.Registry
}

// New returns an agent using apiKey against the given model.
func New(apiKey, model string, catalog *tools.Registry) *Agent {
	return &Agent{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		catalog: catalog,
	}
}

// generateSchema reflects a self-contained JSON schema for T.
func generateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	return reflector.Reflect(&v)
}

func (a *Agent) orchestratorTool() anthropic.ToolParam {
	var b strings.Builder
	b.WriteString("Invoke one tool from the catalog. Available tools:\n")
	for _, def := range a.catalog.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return anthropic.ToolParam{
		Name:        anthropic.F("invoke_tool"),
		Description: anthropic.F(b.String()),
		InputSchema: anthropic.F(generateSchema[toolInvocation]()),
	}
}

// Decide runs the conversation loop for one prompt: the model may chain tool
// calls before producing its final text.
func (a *Agent) Decide(ctx context.Context, prompt string) (*Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.model)),
		MaxTokens: anthropic.Int(1024),
		System: anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock("You are an assistant with access to a tool catalog. " +
				"Call invoke_tool when a tool can answer or visualize the request; " +
				"interactive tools render as embedded applications for the user."),
		}),
		Tools: anthropic.F([]anthropic.ToolUnionUnionParam{a.orchestratorTool()}),
		ToolChoice: anthropic.F[anthropic.ToolChoiceUnionParam](anthropic.ToolChoiceAutoParam{
			Type: anthropic.F(anthropic.ToolChoiceAutoTypeAuto),
		}),
	}

	history := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
	turn := &Turn{}

	for i := 0; i < maxTurns; i++ {
		params.Messages = anthropic.F(history)
		response, err := a.client.Messages.New(ctx, params)
		if err != nil {
			metrics.ChatTurns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("chat: model call: %w", err)
		}
		history = append(history, response.ToParam())

		toolUsed := false
		for _, block := range response.Content {
			switch b := block.AsUnion().(type) {
			case anthropic.TextBlock:
				turn.Text = b.Text
			case anthropic.ToolUseBlock:
				toolUsed = true
				history = append(history, a.runToolUse(ctx, turn, b))
			}
		}
		if !toolUsed {
			break
		}
	}
	metrics.ChatTurns.WithLabelValues("ok").Inc()
	return turn, nil
}

// runToolUse executes one model-requested invocation and renders the result
// block fed back into the conversation.
func (a *Agent) runToolUse(ctx context.Context, turn *Turn, b anthropic.ToolUseBlock) anthropic.MessageParam {
	var inv toolInvocation
	var resultBlock anthropic.ToolResultBlockParam
	if err := json.Unmarshal(b.Input, &inv); err != nil || inv.Name == "" {
		resultBlock = anthropic.NewToolResultBlock(b.ID, "invalid invocation payload", true)
	} else {
		logx.Log.Info().Str("tool", inv.Name).Msg("assistant tool call")
		res, err := a.catalog.Invoke(ctx, inv.Name, inv.Arguments)
		call := ToolCall{Name: inv.Name, Arguments: inv.Arguments, Result: res}
		turn.ToolCalls = append(turn.ToolCalls, call)
		switch {
		case err != nil:
			resultBlock = anthropic.NewToolResultBlock(b.ID, err.Error(), true)
		default:
			payload, merr := json.Marshal(res)
			if merr != nil {
				resultBlock = anthropic.NewToolResultBlock(b.ID, fmt.Sprintf("marshaling result: %v", merr), true)
			} else {
				resultBlock = anthropic.NewToolResultBlock(b.ID, string(payload), res.IsError)
			}
		}
	}
	return anthropic.MessageParam{
		Role:    anthropic.F(anthropic.MessageParamRoleUser),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{resultBlock}),
	}
}

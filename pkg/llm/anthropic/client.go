// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// gateway's llm.LLMClient interface, following the same streaming-adapter
// shape as pkg/llm/openailm and pkg/llm/gemini.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/genesis-labs/convo-gateway/pkg/llm"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the official Anthropic Go SDK behind llm.LLMClient.
type Client struct {
	client    *anthropicsdk.Client
	model     string
	maxTokens int64
	options   map[string]any
}

// NewClient builds an anthropic client targeting model, authenticated with apiKey.
func NewClient(apiKey string, model string, options map[string]any) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key")
	}
	c := anthropicsdk.NewClient(option.WithAPIKey(apiKey))

	maxTokens := int64(4096)
	if options != nil {
		if mt, ok := options["max_tokens"].(float64); ok {
			maxTokens = int64(mt)
		}
	}

	return &Client{client: &c, model: model, maxTokens: maxTokens, options: options}, nil
}

func (c *Client) Provider() string { return "anthropic" }

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "529")
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	chunkCh := make(chan llm.StreamChunk, 100)

	go func() {
		defer close(chunkCh)

		stream := c.client.Messages.NewStreaming(ctx, params)

		var usage *llm.LLMUsage
		stopReason := "stop"
		var pendingToolName, pendingToolID string
		var pendingToolArgs strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.ContentBlock.AsAny()
				if tu, ok := block.(anthropicsdk.ToolUseBlock); ok {
					pendingToolName = tu.Name
					pendingToolID = tu.ID
					pendingToolArgs.Reset()
				}
			case "content_block_delta":
				delta := event.Delta.AsAny()
				switch d := delta.(type) {
				case anthropicsdk.TextDelta:
					chunkCh <- llm.NewTextChunk(d.Text)
				case anthropicsdk.InputJSONDelta:
					pendingToolArgs.WriteString(d.PartialJSON)
				}
			case "content_block_stop":
				if pendingToolName != "" {
					chunkCh <- llm.StreamChunk{
						ToolCalls: []llm.ToolCall{{
							ID:   pendingToolID,
							Name: pendingToolName,
							Function: llm.FunctionCall{
								Name:      pendingToolName,
								Arguments: pendingToolArgs.String(),
							},
						}},
					}
					pendingToolName = ""
				}
			case "message_delta":
				if sr := event.Delta.StopReason; sr != "" {
					stopReason = normalizeStopReason(string(sr))
				}
				if u := event.Usage; u.OutputTokens > 0 {
					usage = &llm.LLMUsage{
						CompletionTokens: int(u.OutputTokens),
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			chunkCh <- llm.NewErrorChunk(fmt.Sprintf("anthropic stream error: %v", err), err, true)
			return
		}

		chunkCh <- llm.NewFinalChunk(stopReason, usage)
	}()

	return chunkCh, nil
}

func (c *Client) buildParams(messages []llm.Message, tools []llm.Tool) (anthropicsdk.MessageNewParams, error) {
	var system []anthropicsdk.TextBlockParam
	var converted []anthropicsdk.MessageParam

	for _, m := range messages {
		text := m.GetTextContent()
		switch m.Role {
		case "system":
			system = append(system, anthropicsdk.TextBlockParam{Text: text})
		case "user":
			converted = append(converted, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(text)))
		case "assistant":
			if len(m.ToolCalls) > 0 {
				var blocks []anthropicsdk.ContentBlockParamUnion
				if text != "" {
					blocks = append(blocks, anthropicsdk.NewTextBlock(text))
				}
				for _, tc := range m.ToolCalls {
					var args map[string]any
					if tc.Function.Arguments != "" {
						_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
					}
					blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, args, tc.Name))
				}
				converted = append(converted, anthropicsdk.NewAssistantMessage(blocks...))
			} else {
				converted = append(converted, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(text)))
			}
		case "tool":
			converted = append(converted, anthropicsdk.NewUserMessage(anthropicsdk.NewToolResultBlock(m.ToolCallID, text, false)))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		Messages:  converted,
		MaxTokens: c.maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	return params, nil
}

func convertTools(tools []llm.Tool) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tp := anthropicsdk.ToolParam{
			Name: t.Name(),
			InputSchema: anthropicsdk.ToolInputSchemaParam{
				Properties: t.Parameters(),
				Required:   t.RequiredParameters(),
			},
		}
		if desc := t.Description(); desc != "" {
			tp.Description = anthropicsdk.String(desc)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tp})
	}
	return out
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return llm.StopReasonLength
	default:
		return llm.StopReasonStop
	}
}

// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - Grouping of tool results into user turns
// - Streaming via official SDK, tool input reassembled by block index

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/model"
)

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	client   anthropic.Client
	model    string
	sampling SamplingParams
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &AnthropicProvider{
		client:   anthropic.NewClient(opts...),
		model:    cfg.Model,
		sampling: cfg.Sampling,
		timeout:  cfg.Timeout,
		logger:   cfg.logger().With(zap.String("backend", "anthropic")),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the current model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Generate sends a messages request.
func (p *AnthropicProvider) Generate(ctx context.Context, req GenerationRequest) (Response, error) {
	message, err := p.client.Messages.New(ctx, p.messageParams(req))
	if err != nil {
		return Response{}, normalizeError(p.Name(), p.timeout, "create message", err)
	}

	msg := model.Message{Role: model.RoleModel}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if variant.Text != "" {
				msg.Parts = append(msg.Parts, model.TextPart(variant.Text))
			}
		case anthropic.ToolUseBlock:
			args, ok := parseToolArguments(string(variant.Input))
			if !ok {
				p.logger.Warn("malformed tool call arguments, substituting empty object",
					zap.String("tool", variant.Name),
					zap.String("call_id", variant.ID))
			}
			msg.Parts = append(msg.Parts, model.FunctionCallPart(model.FunctionCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			}))
		}
	}

	return Response{
		Message: msg,
		Usage: normalizeUsage(uint32(message.Usage.InputTokens), uint32(message.Usage.OutputTokens),
			uint32(message.Usage.InputTokens+message.Usage.OutputTokens)),
		FinishReason: string(message.StopReason),
	}, nil
}

// GenerateStream streams a messages request. Tool input arrives as JSON
// fragments per content block and is released when the message delta
// carries a stop reason.
func (p *AnthropicProvider) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Event, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.messageParams(req))

	events := make(chan Event, streamBuffer)
	go func() {
		defer close(events)
		defer stream.Close()

		acc := newToolCallAccumulator(p.logger)
		var prompt, completion uint32
		finish := ""

		flush := func() bool {
			for _, call := range acc.flush() {
				call := call
				if !sendEvent(ctx, events, Event{Type: EventFunctionCall, FunctionCall: &call}) {
					return false
				}
			}
			return true
		}

		for stream.Next() {
			event := stream.Current()

			// Handle different event types
			switch eventVariant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				// Capture input tokens from message start
				prompt = uint32(eventVariant.Message.Usage.InputTokens)
			case anthropic.ContentBlockStartEvent:
				if eventVariant.ContentBlock.Type == "tool_use" {
					acc.add(int(eventVariant.Index), eventVariant.ContentBlock.ID, eventVariant.ContentBlock.Name, "")
				}
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text != "" {
						if !sendEvent(ctx, events, Event{Type: EventTextDelta, Text: deltaVariant.Text}) {
							return
						}
					}
				case anthropic.InputJSONDelta:
					acc.add(int(eventVariant.Index), "", "", deltaVariant.PartialJSON)
				}
			case anthropic.MessageDeltaEvent:
				// Capture output tokens from message delta
				if eventVariant.Usage.OutputTokens > 0 {
					completion = uint32(eventVariant.Usage.OutputTokens)
				}
				if eventVariant.Delta.StopReason != "" {
					finish = string(eventVariant.Delta.StopReason)
					if !flush() {
						return
					}
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := stream.Err(); err != nil {
			sendEvent(ctx, events, Event{Type: EventError, Err: normalizeError(p.Name(), p.timeout, "stream message", err)})
			return
		}
		if !flush() {
			return
		}
		if usage := normalizeUsage(prompt, completion, prompt+completion); usage != nil {
			if !sendEvent(ctx, events, Event{Type: EventUsage, Usage: usage}) {
				return
			}
		}
		sendEvent(ctx, events, Event{Type: EventDone, FinishReason: finish})
	}()

	return events, nil
}

// CountTokens uses the backend's token counting endpoint.
func (p *AnthropicProvider) CountTokens(ctx context.Context, history []model.Message, modelID string) (int, error) {
	if modelID == "" {
		modelID = p.model
	}
	messages, system := convertToAnthropicMessages(prepareChatMessages(GenerationRequest{History: history}))

	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(modelID),
		Messages: messages,
	}
	if system != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{OfString: anthropic.String(system)}
	}

	count, err := p.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apierror.ErrTokenCountUnavailable, normalizeError(p.Name(), p.timeout, "count tokens", err))
	}
	return int(count.InputTokens), nil
}

// Embed is not offered by Anthropic.
func (p *AnthropicProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic embeddings: %w", apierror.ErrUnsupported)
}

func (p *AnthropicProvider) messageParams(req GenerationRequest) anthropic.MessageNewParams {
	sampling := p.sampling.Merge(req.Sampling)
	messages, systemPrompt := convertToAnthropicMessages(prepareChatMessages(req))

	maxTokens := int64(sampling.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelFor(req, p.model)),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     convertToAnthropicTools(req.Tools),
	}
	if sampling.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*sampling.Temperature))
	}
	if sampling.TopP != nil {
		params.TopP = anthropic.Float(float64(*sampling.TopP))
	}
	if sampling.TopK != nil {
		params.TopK = anthropic.Int(int64(*sampling.TopK))
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	return params
}

// convertToAnthropicMessages converts chat messages to Anthropic format
// and returns the system prompt separately. Tool results and user text
// that follow each other are folded into a single user turn.
func convertToAnthropicMessages(messages []ChatMessage) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	appendUser := func(blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1].Role == anthropic.MessageParamRoleUser {
			anthropicMessages[n-1].Content = append(anthropicMessages[n-1].Content, blocks...)
			return
		}
		anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(blocks...))
	}

	for _, msg := range messages {
		switch msg.Role {
		case chatRoleSystem:
			systemPrompt = msg.Content
		case chatRoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, blob := range msg.Attachments {
				blocks = append(blocks, anthropic.NewImageBlockBase64(blob.MIMEType, base64.StdEncoding.EncodeToString(blob.Data)))
			}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if len(blocks) > 0 {
				appendUser(blocks...)
			}
		case chatRoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input, _ := parseToolArguments(string(tc.Arguments))
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
			}
		case chatRoleTool:
			// Tool result
			appendUser(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToAnthropicTools converts tool definitions to Anthropic format.
func convertToAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		// Extract properties and required from the full schema
		properties, _ := t.Parameters["properties"].(map[string]any)

		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   requiredFields(t.Parameters),
			},
		}
		result[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return result
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)

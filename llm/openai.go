// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Streaming via go-openai library, tool calls reassembled by index
// - Local token counting via tiktoken

package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/model"
)

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible chat endpoints.
type OpenAIProvider struct {
	client         *openai.Client
	name           string
	model          string
	embeddingModel string
	sampling       SamplingParams
	timeout        time.Duration
	tokens         *tiktokenCounter
	logger         *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	return newOpenAICompatible("openai", cfg)
}

func newOpenAICompatible(name string, cfg ProviderConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultOpenAIEmbeddingModel
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientConfig),
		name:           name,
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		sampling:       cfg.Sampling,
		timeout:        cfg.Timeout,
		tokens:         newTiktokenCounter(),
		logger:         cfg.logger().With(zap.String("backend", name)),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Generate sends a chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerationRequest) (Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.chatRequest(req, false))
	if err != nil {
		return Response{}, normalizeError(p.name, p.timeout, "chat completion", err)
	}

	msg := model.Message{Role: model.RoleModel}
	finish := ""
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finish = string(choice.FinishReason)
		if choice.Message.Content != "" {
			msg.Parts = append(msg.Parts, model.TextPart(choice.Message.Content))
		}
		// Convert OpenAI tool calls to our format
		for _, tc := range choice.Message.ToolCalls {
			args, ok := parseToolArguments(tc.Function.Arguments)
			if !ok {
				p.logger.Warn("malformed tool call arguments, substituting empty object",
					zap.String("tool", tc.Function.Name),
					zap.String("call_id", tc.ID))
			}
			id := tc.ID
			if id == "" {
				id = newCallID()
			}
			msg.Parts = append(msg.Parts, model.FunctionCallPart(model.FunctionCall{
				ID:   id,
				Name: tc.Function.Name,
				Args: args,
			}))
		}
	}

	return Response{
		Message: msg,
		Usage: normalizeUsage(uint32(resp.Usage.PromptTokens),
			uint32(resp.Usage.CompletionTokens), uint32(resp.Usage.TotalTokens)),
		FinishReason: finish,
	}, nil
}

// GenerateStream streams a chat completion. Text deltas are forwarded as
// they arrive; tool calls are accumulated by index and released once the
// backend reports a finish reason (or the stream ends).
func (p *OpenAIProvider) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Event, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.chatRequest(req, true))
	if err != nil {
		return nil, normalizeError(p.name, p.timeout, "stream creation", err)
	}

	events := make(chan Event, streamBuffer)
	go func() {
		defer close(events)
		defer stream.Close()

		acc := newToolCallAccumulator(p.logger)
		var usage *TokenUsage
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

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sendEvent(ctx, events, Event{Type: EventError, Err: normalizeError(p.name, p.timeout, "stream recv", err)})
				return
			}

			// Capture token usage from final chunk
			if response.Usage != nil {
				usage = normalizeUsage(uint32(response.Usage.PromptTokens),
					uint32(response.Usage.CompletionTokens), uint32(response.Usage.TotalTokens))
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.Delta.Content != "" {
				if !sendEvent(ctx, events, Event{Type: EventTextDelta, Text: choice.Delta.Content}) {
					return
				}
			}
			for pos, tc := range choice.Delta.ToolCalls {
				index := pos
				if tc.Index != nil {
					index = *tc.Index
				}
				acc.add(index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
				if !flush() {
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		if !flush() {
			return
		}
		if usage != nil && !sendEvent(ctx, events, Event{Type: EventUsage, Usage: usage}) {
			return
		}
		sendEvent(ctx, events, Event{Type: EventDone, FinishReason: finish})
	}()

	return events, nil
}

// CountTokens counts prompt tokens locally with tiktoken.
func (p *OpenAIProvider) CountTokens(_ context.Context, history []model.Message, modelID string) (int, error) {
	if modelID == "" {
		modelID = p.model
	}
	return p.tokens.count(modelID, prepareChatMessages(GenerationRequest{History: history}))
}

// Embed returns one embedding per text.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, normalizeError(p.name, p.timeout, "create embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			apierror.ErrMalformedResponse, len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		index := d.Index
		if index < 0 || index >= len(vectors) {
			index = i
		}
		vectors[index] = d.Embedding
	}
	return vectors, nil
}

func (p *OpenAIProvider) chatRequest(req GenerationRequest, stream bool) openai.ChatCompletionRequest {
	sampling := p.sampling.Merge(req.Sampling)

	oaiReq := openai.ChatCompletionRequest{
		Model:     modelFor(req, p.model),
		Messages:  convertToOpenAIMessages(prepareChatMessages(req)),
		MaxTokens: int(sampling.MaxTokens),
		Tools:     convertToOpenAITools(req.Tools),
	}
	if sampling.Temperature != nil {
		oaiReq.Temperature = *sampling.Temperature
	}
	if sampling.TopP != nil {
		oaiReq.TopP = *sampling.TopP
	}
	if stream {
		oaiReq.Stream = true
		oaiReq.StreamOptions = &openai.StreamOptions{
			IncludeUsage: true,
		}
	}
	return oaiReq
}

// convertToOpenAIMessages handles tool calls, tool responses and
// inline attachments.
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		// Handle tool calls from assistant
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}

		// Handle tool response
		if msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}

		if len(msg.Attachments) > 0 {
			oaiMsg.Content = ""
			if msg.Content != "" {
				oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				})
			}
			for _, blob := range msg.Attachments {
				oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: dataURI(blob),
					},
				})
			}
		}

		result[i] = oaiMsg
	}
	return result
}

func dataURI(blob model.Blob) string {
	return "data:" + blob.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data)
}

// convertToOpenAITools converts tool definitions to OpenAI format.
func convertToOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)

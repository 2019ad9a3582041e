// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation (API key or Vertex AI project)
// - Multi-part content mapping for the native Gemini protocol
// - System instruction handling via config
// - Streaming via official SDK iterator

package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/model"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
	sampling       SamplingParams
	timeout        time.Duration
	logger         *zap.Logger
	initErr        error // Stores client initialization error for deferred reporting
}

// NewGeminiProvider creates a new Gemini provider.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	p := &GeminiProvider{
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		sampling:       cfg.Sampling,
		timeout:        cfg.Timeout,
		logger:         cfg.logger().With(zap.String("backend", "gemini")),
	}
	if p.embeddingModel == "" {
		p.embeddingModel = DefaultGeminiEmbeddingModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Enterprise {
		clientConfig.Backend = genai.BackendVertexAI
		if cfg.Project != "" {
			// Project-based auth uses application default credentials.
			clientConfig.APIKey = ""
			clientConfig.Project = cfg.Project
			clientConfig.Location = cfg.Location
		}
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		clientConfig.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		// Store initialization error to return on first use - preserves constructor signature
		p.initErr = fmt.Errorf("failed to initialize Gemini client: %w", err)
		return p
	}
	p.client = client
	return p
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the current model.
func (p *GeminiProvider) Model() string {
	return p.model
}

func (p *GeminiProvider) ready() error {
	if p.initErr != nil {
		return p.initErr
	}
	if p.client == nil {
		return fmt.Errorf("gemini client not initialized")
	}
	return nil
}

// Generate sends a request and returns the complete reply.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerationRequest) (Response, error) {
	if err := p.ready(); err != nil {
		return Response{}, err
	}

	modelID := modelFor(req, p.model)
	response, err := p.client.Models.GenerateContent(ctx, modelID, toGeminiContents(req.Contents()), p.generateConfig(req))
	if err != nil {
		return Response{}, normalizeError(p.Name(), p.timeout, "generate content", err)
	}

	msg, finish := fromGeminiResponse(response)
	return Response{
		Message:      msg,
		Usage:        usageFromGemini(response.UsageMetadata),
		FinishReason: finish,
	}, nil
}

// GenerateStream streams a reply. Function calls arrive complete in the
// native protocol and are forwarded as soon as they are seen.
func (p *GeminiProvider) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Event, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	modelID := modelFor(req, p.model)
	contents := toGeminiContents(req.Contents())
	config := p.generateConfig(req)

	events := make(chan Event, streamBuffer)
	go func() {
		defer close(events)

		var usage *TokenUsage
		finish := ""
		// GenerateContentStream returns iter.Seq2[*GenerateContentResponse, error]
		for response, err := range p.client.Models.GenerateContentStream(ctx, modelID, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sendEvent(ctx, events, Event{Type: EventError, Err: normalizeError(p.Name(), p.timeout, "stream content", err)})
				return
			}

			if u := usageFromGemini(response.UsageMetadata); u != nil {
				usage = u
			}
			if len(response.Candidates) == 0 {
				continue
			}

			candidate := response.Candidates[0]
			if candidate.FinishReason != "" {
				finish = string(candidate.FinishReason)
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				ev, ok := eventFromGeminiPart(part)
				if !ok {
					continue
				}
				if !sendEvent(ctx, events, ev) {
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		if usage != nil && !sendEvent(ctx, events, Event{Type: EventUsage, Usage: usage}) {
			return
		}
		sendEvent(ctx, events, Event{Type: EventDone, FinishReason: finish})
	}()

	return events, nil
}

// CountTokens asks the backend to count the tokens of history.
func (p *GeminiProvider) CountTokens(ctx context.Context, history []model.Message, modelID string) (int, error) {
	if err := p.ready(); err != nil {
		return 0, fmt.Errorf("%w: %v", apierror.ErrTokenCountUnavailable, err)
	}
	if modelID == "" {
		modelID = p.model
	}

	response, err := p.client.Models.CountTokens(ctx, modelID, toGeminiContents(history), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apierror.ErrTokenCountUnavailable, normalizeError(p.Name(), p.timeout, "count tokens", err))
	}
	return int(response.TotalTokens), nil
}

// Embed returns one embedding per text.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	response, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, contents, nil)
	if err != nil {
		return nil, normalizeError(p.Name(), p.timeout, "embed content", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			apierror.ErrMalformedResponse, len(texts), len(response.Embeddings))
	}

	vectors := make([][]float32, len(response.Embeddings))
	for i, e := range response.Embeddings {
		if e != nil {
			vectors[i] = e.Values
		}
	}
	return vectors, nil
}

func (p *GeminiProvider) generateConfig(req GenerationRequest) *genai.GenerateContentConfig {
	sampling := p.sampling.Merge(req.Sampling)

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: sampling.MaxTokens,
		Tools:           convertToGeminiTools(req.Tools),
	}
	if sampling.Temperature != nil {
		config.Temperature = genai.Ptr(*sampling.Temperature)
	}
	if sampling.TopP != nil {
		config.TopP = genai.Ptr(*sampling.TopP)
	}
	if sampling.TopK != nil {
		config.TopK = genai.Ptr(float32(*sampling.TopK))
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	return config
}

// toGeminiContents maps history onto Gemini contents. Tool messages are
// sent with the user role, which is where Gemini expects function responses.
func toGeminiContents(history []model.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == model.RoleModel {
			role = genai.RoleModel
		}

		content := &genai.Content{Role: role}
		for _, p := range msg.Parts {
			switch p.Kind() {
			case model.PartText:
				content.Parts = append(content.Parts, &genai.Part{Text: p.Text})
			case model.PartFunctionCall:
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case model.PartFunctionResponse:
				content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.FunctionResponse.ID,
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Result,
				}})
			case model.PartInlineData:
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{
					Data:     p.InlineData.Data,
					MIMEType: p.InlineData.MIMEType,
				}})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

// fromGeminiResponse converts the first candidate into a model message.
func fromGeminiResponse(response *genai.GenerateContentResponse) (model.Message, string) {
	msg := model.Message{Role: model.RoleModel}
	if response == nil || len(response.Candidates) == 0 {
		return msg, ""
	}

	candidate := response.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			ev, ok := eventFromGeminiPart(part)
			if !ok {
				continue
			}
			if ev.FunctionCall != nil {
				msg.Parts = append(msg.Parts, model.FunctionCallPart(*ev.FunctionCall))
			} else {
				msg.Parts = append(msg.Parts, model.TextPart(ev.Text))
			}
		}
	}
	return msg, string(candidate.FinishReason)
}

// eventFromGeminiPart converts a response part into a stream event.
// Thought parts and empty parts are skipped.
func eventFromGeminiPart(part *genai.Part) (Event, bool) {
	if part == nil || part.Thought {
		return Event{}, false
	}
	if part.FunctionCall != nil {
		id := part.FunctionCall.ID
		if id == "" {
			id = newCallID()
		}
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		return Event{Type: EventFunctionCall, FunctionCall: &model.FunctionCall{
			ID:   id,
			Name: part.FunctionCall.Name,
			Args: args,
		}}, true
	}
	if part.Text != "" {
		return Event{Type: EventTextDelta, Text: part.Text}, true
	}
	return Event{}, false
}

func usageFromGemini(meta *genai.GenerateContentResponseUsageMetadata) *TokenUsage {
	if meta == nil {
		return nil
	}
	return normalizeUsage(uint32(meta.PromptTokenCount), uint32(meta.CandidatesTokenCount), uint32(meta.TotalTokenCount))
}

// convertToGeminiTools converts tool definitions to Gemini format.
func convertToGeminiTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	var declarations []*genai.FunctionDeclaration
	for _, t := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertToGeminiSchema(t.Parameters),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertToGeminiSchema recursively converts a parameter schema to Gemini format.
// Handles arrays by adding required 'items' field.
func convertToGeminiSchema(params map[string]any) *genai.Schema {
	schema := convertPropertyToGeminiSchema(params)
	if schema.Type == "" {
		schema.Type = genai.TypeObject
	}

	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	return schema
}

// convertPropertyToGeminiSchema converts a single property to Gemini schema.
func convertPropertyToGeminiSchema(prop map[string]any) *genai.Schema {
	schema := &genai.Schema{}

	if t, ok := prop["type"].(string); ok {
		schema.Type = mapToGeminiType(t)
	}
	if d, ok := prop["description"].(string); ok {
		schema.Description = d
	}
	if values, ok := prop["enum"].([]any); ok {
		for _, v := range values {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	// Gemini requires 'items' for arrays
	if schema.Type == genai.TypeArray {
		if items, ok := prop["items"].(map[string]any); ok {
			schema.Items = convertPropertyToGeminiSchema(items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	}

	if props, ok := prop["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, p := range props {
			if pMap, ok := p.(map[string]any); ok {
				schema.Properties[name] = convertPropertyToGeminiSchema(pMap)
			}
		}
	}

	return schema
}

// mapToGeminiType maps JSON schema type to Gemini type.
func mapToGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)

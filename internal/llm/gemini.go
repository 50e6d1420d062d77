package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/aegis/internal/metrics"
)

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	APIKey         string
	EmbeddingModel string
	Pricing        Pricing
}

// GeminiClient talks to the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	embeddingModel string
	pricing        Pricing
}

// NewGeminiClient creates a Gemini client. An empty APIKey falls back to the
// environment (GOOGLE_API_KEY or Vertex AI application default credentials).
func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	}
	if opts.APIKey != "" {
		cfg.APIKey = opts.APIKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	return &GeminiClient{client: client, embeddingModel: opts.EmbeddingModel, pricing: opts.Pricing}, nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, cfg := geminiRequest(req)
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(req.Model, "error").Inc()
		return nil, fmt.Errorf("GeminiClient.Complete: generate content: %w", err)
	}
	metrics.LLMRequests.WithLabelValues(req.Model, "ok").Inc()
	return c.convert(req.Model, resp, resp.Text()), nil
}

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	contents, cfg := geminiRequest(req)

	var (
		text string
		last *genai.GenerateContentResponse
	)
	for chunk, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			metrics.LLMRequests.WithLabelValues(req.Model, "error").Inc()
			return nil, fmt.Errorf("GeminiClient.Stream: %w", err)
		}
		delta := chunk.Text()
		if delta != "" {
			text += delta
			if onDelta != nil {
				onDelta(delta)
			}
		}
		last = chunk
	}
	metrics.LLMRequests.WithLabelValues(req.Model, "ok").Inc()
	if last == nil {
		return &Response{Model: req.Model}, nil
	}
	return c.convert(req.Model, last, text), nil
}

// Embed implements Client.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	res, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("GeminiClient.Embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GeminiClient.Embed: got %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *GeminiClient) convert(model string, resp *genai.GenerateContentResponse, text string) *Response {
	out := &Response{Model: model, Content: text}
	for _, fc := range resp.FunctionCalls() {
		args, err := jsonString(fc.Args)
		if err != nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args})
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			Requests:         1,
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
			TotalTokens:      int64(u.TotalTokenCount),
		}
		out.Usage.Cost = c.pricing.Cost(model, out.Usage.PromptTokens, out.Usage.CompletionTokens)
		metrics.LLMTokens.WithLabelValues(model, "prompt").Add(float64(out.Usage.PromptTokens))
		metrics.LLMTokens.WithLabelValues(model, "completion").Add(float64(out.Usage.CompletionTokens))
	}
	return out
}

func geminiRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		switch req.ToolChoice {
		case ToolChoiceAuto:
		case ToolChoiceRequired:
			cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAny,
			}}
		case ToolChoiceNone:
			cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeNone,
			}}
		default:
			cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ToolChoice},
			}}
		}
	}

	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

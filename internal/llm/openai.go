package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
)

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	APIKey              string
	BaseURL             string
	Timeout             time.Duration
	HTTPClient          *http.Client
	EmbeddingModel      string
	EmbeddingDimensions int
	Pricing             Pricing
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client         openai.Client
	embeddingModel string
	dimensions     int
	pricing        Pricing
}

// NewOpenAIClient builds a client. APIKey may be an OAuth bearer token when the
// endpoint is a gateway that accepts one.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &OpenAIClient{
		client:         openai.NewClient(reqOpts...),
		embeddingModel: opts.EmbeddingModel,
		dimensions:     opts.EmbeddingDimensions,
		pricing:        opts.Pricing,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openAIParams(req))
	if err != nil {
		metrics.LLMRequests.WithLabelValues(req.Model, "error").Inc()
		return nil, fmt.Errorf("OpenAIClient.Complete: %w", err)
	}
	metrics.LLMRequests.WithLabelValues(req.Model, "ok").Inc()

	resp := c.convert(req.Model, completion)
	log := logger.FromContext(ctx)
	log.Debug().
		Str("model", req.Model).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Int("tool_calls", len(resp.ToolCalls)).
		Dur("elapsed", time.Since(start)).
		Msg("LLM completion")
	return resp, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	params := openAIParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" && onDelta != nil {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		metrics.LLMRequests.WithLabelValues(req.Model, "error").Inc()
		return nil, fmt.Errorf("OpenAIClient.Stream: %w", err)
	}
	metrics.LLMRequests.WithLabelValues(req.Model, "ok").Inc()

	return c.convert(req.Model, &acc.ChatCompletion), nil
}

// Embed implements Client.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	res, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAIClient.Embed: %w", err)
	}
	if len(res.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAIClient.Embed: got %d embeddings for %d inputs", len(res.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range res.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("OpenAIClient.Embed: embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (c *OpenAIClient) convert(model string, completion *openai.ChatCompletion) *Response {
	resp := &Response{Model: completion.Model}
	if resp.Model == "" {
		resp.Model = model
	}
	if len(completion.Choices) > 0 {
		msg := completion.Choices[0].Message
		resp.Content = msg.Content
		for _, tc := range msg.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	resp.Usage = Usage{
		Requests:         1,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
		Cost:             c.pricing.Cost(model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens),
	}
	metrics.LLMTokens.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))
	return resp
}

func openAIParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	for _, t := range req.Tools {
		var description param.Opt[string]
		if t.Description != "" {
			description = param.NewOpt(t.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: description,
			Parameters:  t.Parameters,
		}))
	}

	switch req.ToolChoice {
	case ToolChoiceAuto:
	case ToolChoiceRequired, ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: param.NewOpt(req.ToolChoice),
		}
	default:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ToolChoice},
				Type:     constant.ValueOf[constant.Function](),
			},
		}
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	return params
}

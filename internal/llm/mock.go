package llm

import "context"

// ClientFunc adapts functions to Client, for tests and fakes.
type ClientFunc struct {
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
	StreamFunc   func(ctx context.Context, req Request, onDelta func(string)) (*Response, error)
	EmbedFunc    func(ctx context.Context, texts []string) ([][]float32, error)
}

// Complete implements Client.
func (c *ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.CompleteFunc != nil {
		return c.CompleteFunc(ctx, req)
	}
	return &Response{}, nil
}

// Stream implements Client. Without StreamFunc it falls back to Complete and
// emits the whole content as one delta.
func (c *ClientFunc) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	if c.StreamFunc != nil {
		return c.StreamFunc(ctx, req, onDelta)
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, nil
}

// Embed implements Client.
func (c *ClientFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.EmbedFunc != nil {
		return c.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0}
	}
	return out, nil
}

// ToolResponse builds a response carrying a single tool call.
func ToolResponse(name, arguments string) *Response {
	return &Response{
		ToolCalls: []ToolCall{{ID: "call_" + name, Name: name, Arguments: arguments}},
		Usage:     Usage{Requests: 1},
	}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
)

// ToolResult is the decoded outcome of CallTool.
type ToolResult[T any] struct {
	Value     T
	Arguments string
	Attempts  int
	Usage     Usage
}

// AnyToolResult is the outcome of CallAnyTool.
type AnyToolResult struct {
	Name      string
	Arguments json.RawMessage
	Attempts  int
	Usage     Usage
}

// CallTool forces the model to call tool and decodes the arguments into T.
// Each attempt must carry a call to tool.Name whose arguments validate against
// the schema; check, when non-nil, adds semantic validation. Failed attempts are
// retried with the validation error appended to the conversation. After
// maxAttempts the last failure is returned as a ModelBehaviorError.
func CallTool[T any](ctx context.Context, client Client, req Request, tool Tool, maxAttempts int, check func(*T) error) (*ToolResult[T], error) {
	req.Tools = []Tool{tool}
	req.ToolChoice = tool.Name

	res, err := callLoop(ctx, client, req, maxAttempts, func(resp *Response) (string, string, error) {
		call, err := findCall(resp, tool.Name)
		if err != nil {
			return "", "", err
		}
		return tool.Name, call.Arguments, nil
	}, func(name, args string) error {
		var v T
		if err := json.Unmarshal([]byte(args), &v); err != nil {
			return fmt.Errorf("decode %s arguments: %w", name, err)
		}
		if check != nil {
			return check(&v)
		}
		return nil
	}, tool)
	if err != nil {
		return nil, err
	}

	out := &ToolResult[T]{Arguments: res.args, Attempts: res.attempts, Usage: res.usage}
	if err := json.Unmarshal([]byte(res.args), &out.Value); err != nil {
		return nil, fmt.Errorf("CallTool %s: decode: %w", tool.Name, err)
	}
	return out, nil
}

// CallAnyTool requires the model to call one of tools and returns the chosen
// tool with its validated raw arguments. check, when non-nil, adds semantic
// validation of the chosen call.
func CallAnyTool(ctx context.Context, client Client, req Request, tools []Tool, maxAttempts int, check func(name string, args json.RawMessage) error) (*AnyToolResult, error) {
	req.Tools = tools
	req.ToolChoice = ToolChoiceRequired

	byName := make(map[string]Tool, len(tools))
	names := make([]string, len(tools))
	for i, t := range tools {
		byName[t.Name] = t
		names[i] = t.Name
	}

	res, err := callLoop(ctx, client, req, maxAttempts, func(resp *Response) (string, string, error) {
		if len(resp.ToolCalls) == 0 {
			return "", "", errors.New("response contained no tool call")
		}
		call := resp.ToolCalls[0]
		t, ok := byName[call.Name]
		if !ok {
			return "", "", fmt.Errorf("unknown tool %q", call.Name)
		}
		args := CleanJSON(call.Arguments)
		if err := t.Validate(args); err != nil {
			return "", "", err
		}
		return call.Name, args, nil
	}, func(name, args string) error {
		if check != nil {
			return check(name, json.RawMessage(args))
		}
		return nil
	}, Tool{Name: strings.Join(names, "|")})
	if err != nil {
		return nil, err
	}

	return &AnyToolResult{
		Name:      res.name,
		Arguments: json.RawMessage(res.args),
		Attempts:  res.attempts,
		Usage:     res.usage,
	}, nil
}

type loopResult struct {
	name     string
	args     string
	attempts int
	usage    Usage
}

func callLoop(
	ctx context.Context,
	client Client,
	req Request,
	maxAttempts int,
	extract func(*Response) (string, string, error),
	check func(name, args string) error,
	tool Tool,
) (*loopResult, error) {
	log := logger.FromContext(ctx)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		usage      Usage
		lastErr    error
		systemErrs int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperr.System(tool.Name, err)
		}
		if attempt > 1 {
			metrics.ToolCallRetries.WithLabelValues(tool.Name).Inc()
		}

		resp, err := client.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.System(tool.Name, err)
			}
			systemErrs++
			lastErr = err
			log.Warn().Err(err).Str("tool", tool.Name).Int("attempt", attempt).Msg("LLM call failed")
			continue
		}
		usage.Add(resp.Usage)

		name, args, err := extract(resp)
		if err == nil && tool.schema != nil {
			args = CleanJSON(args)
			err = tool.Validate(args)
		}
		if err == nil && check != nil {
			err = check(name, args)
		}
		if err == nil {
			return &loopResult{name: name, args: args, attempts: attempt, usage: usage}, nil
		}

		lastErr = err
		log.Warn().Err(err).Str("tool", tool.Name).Int("attempt", attempt).Msg("Invalid tool call")
		req.Messages = append(append([]Message(nil), req.Messages...), User(fmt.Sprintf(
			"Your previous response was invalid: %v\nRespond again by calling the tool with valid arguments.", err)))
	}

	if systemErrs == maxAttempts {
		return nil, apperr.System(tool.Name, lastErr)
	}
	return nil, apperr.Model(tool.Name, maxAttempts, lastErr)
}

func findCall(resp *Response, name string) (*ToolCall, error) {
	if len(resp.ToolCalls) == 0 {
		return nil, errors.New("response contained no tool call")
	}
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Name == name {
			return &resp.ToolCalls[i], nil
		}
	}
	return nil, fmt.Errorf("expected tool %q, got %q", name, resp.ToolCalls[0].Name)
}

package llm

import (
	"context"
	"encoding/json"
	"strings"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

// ToolCaller executes one named tool call. Implemented by the per-request
// tool client pool.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// RunCallbacks extends the raw stream callbacks with tool progress.
type RunCallbacks struct {
	OnTextDelta  func(delta string)
	OnToolCall   func(call ToolCall)
	OnToolResult func(call ToolCall, result string, err error)
}

// RunWithTools drives the multi-step tool loop: stream a turn, execute any
// requested tool calls, feed results back, repeat. Text from every turn is
// accumulated into the final result, matching what the client saw streamed.
// maxSteps caps model turns so a tool-calling loop cannot run away. A
// failing tool never aborts the run, its error text goes back to the model
// instead.
func RunWithTools(ctx context.Context, p Provider, req StreamRequest, caller ToolCaller, maxSteps int, cb RunCallbacks, log *logger.Logger) (*Result, error) {
	if maxSteps <= 0 {
		maxSteps = 1
	}
	var total types.TokenUsage
	sawUsage := false
	var texts []string

	for step := 0; step < maxSteps; step++ {
		res, err := p.Stream(ctx, req, StreamCallbacks{OnTextDelta: cb.OnTextDelta})
		if err != nil {
			return nil, err
		}
		if res.Usage != nil {
			sawUsage = true
			total.InputTokens += res.Usage.InputTokens
			total.OutputTokens += res.Usage.OutputTokens
			total.ReasoningTokens += res.Usage.ReasoningTokens
		}
		// Text from tool-calling turns was already streamed to the client,
		// so it has to land in the persisted result too.
		if res.Text != "" {
			texts = append(texts, res.Text)
		}

		if len(res.ToolCalls) == 0 || caller == nil || step == maxSteps-1 {
			if len(res.ToolCalls) > 0 {
				log.Warn("tool step cap reached, finishing with accumulated text", "max_steps", maxSteps)
			}
			out := &Result{Text: strings.Join(texts, "\n\n"), FinishReason: res.FinishReason}
			if sawUsage {
				out.Usage = &total
			}
			return out, nil
		}

		req.Messages = append(req.Messages, ChatMessage{
			Role:      "assistant",
			Content:   res.Text,
			ToolCalls: res.ToolCalls,
		})
		for _, call := range res.ToolCalls {
			if cb.OnToolCall != nil {
				cb.OnToolCall(call)
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			out, cerr := caller.Call(ctx, call.Name, args)
			if cerr != nil {
				log.Warn("tool call failed", "tool", call.Name, "error", cerr)
				out = "tool call failed: " + cerr.Error()
			}
			if cb.OnToolResult != nil {
				cb.OnToolResult(call, out, cerr)
			}
			req.Messages = append(req.Messages, ChatMessage{
				Role:       "tool",
				Content:    out,
				ToolCallID: call.ID,
			})
		}
	}
	// Unreachable, the cap branch above returns.
	return &Result{}, nil
}

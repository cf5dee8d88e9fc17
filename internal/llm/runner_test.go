package llm

import (
	"context"
	"errors"
	"testing"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

type scriptedProvider struct {
	results []*Result
	calls   int
	lastReq StreamRequest
}

func (p *scriptedProvider) Stream(_ context.Context, req StreamRequest, cb StreamCallbacks) (*Result, error) {
	p.lastReq = req
	if p.calls >= len(p.results) {
		return nil, errors.New("no scripted result left")
	}
	res := p.results[p.calls]
	p.calls++
	if cb.OnTextDelta != nil && res.Text != "" {
		cb.OnTextDelta(res.Text)
	}
	return res, nil
}

type recordingCaller struct {
	calls []string
	out   string
	err   error
}

func (c *recordingCaller) Call(_ context.Context, name string, _ map[string]any) (string, error) {
	c.calls = append(c.calls, name)
	return c.out, c.err
}

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestRunWithToolsTwoSteps(t *testing.T) {
	p := &scriptedProvider{results: []*Result{
		{
			ToolCalls: []ToolCall{{ID: "c1", Name: "srv_search", Arguments: `{"q":"go"}`}},
			Usage:     &types.TokenUsage{InputTokens: 10, OutputTokens: 5},
		},
		{
			Text:         "final answer",
			Usage:        &types.TokenUsage{InputTokens: 20, OutputTokens: 7, ReasoningTokens: 2},
			FinishReason: "stop",
		},
	}}
	caller := &recordingCaller{out: "search results"}

	var toolCalls, toolResults int
	res, err := RunWithTools(context.Background(), p, StreamRequest{Model: "m"}, caller, 5, RunCallbacks{
		OnToolCall:   func(ToolCall) { toolCalls++ },
		OnToolResult: func(_ ToolCall, _ string, _ error) { toolResults++ },
	}, testLog(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "final answer" {
		t.Fatalf("text: %q", res.Text)
	}
	if res.Usage == nil || res.Usage.InputTokens != 30 || res.Usage.OutputTokens != 12 || res.Usage.ReasoningTokens != 2 {
		t.Fatalf("usage not accumulated: %+v", res.Usage)
	}
	if len(caller.calls) != 1 || caller.calls[0] != "srv_search" {
		t.Fatalf("tool calls: %v", caller.calls)
	}
	if toolCalls != 1 || toolResults != 1 {
		t.Fatalf("callbacks: %d/%d", toolCalls, toolResults)
	}

	// The second turn must carry the assistant tool-call turn and the tool
	// result.
	msgs := p.lastReq.Messages
	if len(msgs) != 2 {
		t.Fatalf("want 2 appended messages, got %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("assistant turn wrong: %+v", msgs[0])
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "c1" || msgs[1].Content != "search results" {
		t.Fatalf("tool turn wrong: %+v", msgs[1])
	}
}

func TestRunWithToolsStepCap(t *testing.T) {
	loop := &Result{
		Text:      "still calling",
		ToolCalls: []ToolCall{{ID: "c", Name: "srv_loop", Arguments: "{}"}},
	}
	p := &scriptedProvider{results: []*Result{loop, loop, loop, loop, loop}}
	caller := &recordingCaller{out: "ok"}

	res, err := RunWithTools(context.Background(), p, StreamRequest{Model: "m"}, caller, 3, RunCallbacks{}, testLog(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if p.calls != 3 {
		t.Fatalf("cap of 3 steps must stop at 3 provider turns, got %d", p.calls)
	}
	if res.Text != "still calling\n\nstill calling\n\nstill calling" {
		t.Fatalf("text: %q", res.Text)
	}
	// Two turns executed tools, the capped third did not.
	if len(caller.calls) != 2 {
		t.Fatalf("tool executions: %d", len(caller.calls))
	}
}

func TestRunWithToolsKeepsEarlierTurnText(t *testing.T) {
	p := &scriptedProvider{results: []*Result{
		{
			Text:      "Let me look that up.",
			ToolCalls: []ToolCall{{ID: "c1", Name: "srv_search", Arguments: `{"q":"go"}`}},
		},
		{Text: "final answer", FinishReason: "stop"},
	}}
	caller := &recordingCaller{out: "search results"}

	var streamed string
	res, err := RunWithTools(context.Background(), p, StreamRequest{Model: "m"}, caller, 5, RunCallbacks{
		OnTextDelta: func(delta string) { streamed += delta },
	}, testLog(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The first turn's text reached the client, so it must survive into the
	// final result as well.
	if res.Text != "Let me look that up.\n\nfinal answer" {
		t.Fatalf("text: %q", res.Text)
	}
	if streamed != "Let me look that up.final answer" {
		t.Fatalf("streamed: %q", streamed)
	}
}

func TestRunWithToolsFailureFedBack(t *testing.T) {
	p := &scriptedProvider{results: []*Result{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "srv_flaky", Arguments: "{}"}}},
		{Text: "recovered", FinishReason: "stop"},
	}}
	caller := &recordingCaller{err: errors.New("connection refused")}

	res, err := RunWithTools(context.Background(), p, StreamRequest{Model: "m"}, caller, 5, RunCallbacks{}, testLog(t))
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if res.Text != "recovered" {
		t.Fatalf("text: %q", res.Text)
	}
	msgs := p.lastReq.Messages
	if msgs[len(msgs)-1].Role != "tool" || msgs[len(msgs)-1].Content == "" {
		t.Fatalf("error text must go back to the model: %+v", msgs[len(msgs)-1])
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// errStreamDone signals normal early termination of an SSE stream.
var errStreamDone = errors.New("stream done")

type openaiProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logger.Logger
}

// NewOpenAIProvider talks the chat-completions SSE dialect, which also
// covers OpenAI-compatible backends when baseURL points elsewhere.
func NewOpenAIProvider(baseURL, apiKey string, log *logger.Logger) Provider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openaiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log.With("provider", ProviderOpenAI),
	}
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string  `json:"type"`
	Function ToolDef `json:"function"`
}

type oaRequest struct {
	Model           string         `json:"model"`
	Messages        []oaMessage    `json:"messages"`
	Tools           []oaTool       `json:"tools,omitempty"`
	Stream          bool           `json:"stream"`
	StreamOptions   map[string]any `json:"stream_options,omitempty"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
}

type oaToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string            `json:"content"`
			ToolCalls []oaToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
}

type oaUsage struct {
	PromptTokens            int64 `json:"prompt_tokens"`
	CompletionTokens        int64 `json:"completion_tokens"`
	CompletionTokensDetails struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

func (p *openaiProvider) Stream(ctx context.Context, req StreamRequest, cb StreamCallbacks) (*Result, error) {
	body := oaRequest{
		Model:           req.Model,
		Stream:          true,
		StreamOptions:   map[string]any{"include_usage": true},
		ReasoningEffort: req.ReasoningEffort,
		MaxTokens:       req.MaxTokens,
	}
	for _, m := range req.Messages {
		om := oaMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		body.Messages = append(body.Messages, om)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaTool{Type: "function", Function: t})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var (
		text         strings.Builder
		accums       = map[int]*toolCallAccum{}
		maxIndex     = -1
		usage        *types.TokenUsage
		finishReason string
	)

	err = streamSSE(resp.Body, func(_ string, data string) error {
		if data == "[DONE]" {
			return errStreamDone
		}
		var chunk oaChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.log.Debug("skipping unparseable stream chunk", "error", err)
			return nil
		}
		if chunk.Usage != nil {
			usage = &types.TokenUsage{
				InputTokens:     chunk.Usage.PromptTokens,
				OutputTokens:    chunk.Usage.CompletionTokens,
				ReasoningTokens: chunk.Usage.CompletionTokensDetails.ReasoningTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if cb.OnTextDelta != nil {
				cb.OnTextDelta(choice.Delta.Content)
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := accums[tc.Index]
			if !ok {
				acc = &toolCallAccum{}
				accums[tc.Index] = acc
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStreamDone) {
		return nil, fmt.Errorf("read chat completions stream: %w", err)
	}

	res := &Result{Text: text.String(), Usage: usage, FinishReason: finishReason}
	for i := 0; i <= maxIndex; i++ {
		acc, ok := accums[i]
		if !ok {
			continue
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{ID: acc.id, Name: acc.name, Arguments: acc.args.String()})
	}
	return res, nil
}

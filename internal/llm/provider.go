package llm

import (
	"context"
	"strings"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

// ChatMessage is the provider-neutral wire message.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolDef describes a callable tool in the shape strict-schema providers
// accept; Parameters must already be normalized.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one requested invocation; Arguments is the raw JSON the model
// produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type StreamRequest struct {
	Model           string
	Messages        []ChatMessage
	Tools           []ToolDef
	ReasoningEffort string
	MaxTokens       int
}

// StreamCallbacks fire as the provider stream progresses. Nil callbacks are
// skipped.
type StreamCallbacks struct {
	OnTextDelta func(delta string)
}

// Result is one completed assistant turn. ToolCalls non-empty means the
// model stopped to call tools and the turn is not final.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        *types.TokenUsage
	FinishReason string
}

// Provider streams one model turn.
type Provider interface {
	Stream(ctx context.Context, req StreamRequest, cb StreamCallbacks) (*Result, error)
}

// Binding is the per-request resolution of a model id to a callable
// provider. UsedUserKey records whether the credential is the user's own,
// which is what the quota gate keys off.
type Binding struct {
	Model       Model
	Provider    Provider
	UsedUserKey bool
}

// Keys carries credentials for binding resolution: the user's own keys
// (plaintext, already unsealed) and the app-level fallback keys, both keyed
// by provider id.
type Keys struct {
	User map[string]string
	App  map[string]string
}

// ResolveBinding maps a model id to a provider plus credential. User keys
// win over app keys; a model that requires a user key fails closed when the
// user has none.
func ResolveBinding(catalog *Catalog, modelID string, keys Keys, log *logger.Logger) (*Binding, error) {
	model, ok := catalog.Lookup(modelID)
	if !ok {
		return nil, apierr.NotFound("model " + modelID)
	}

	userKey := strings.TrimSpace(keys.User[model.Provider])
	appKey := strings.TrimSpace(keys.App[model.Provider])

	key := userKey
	usedUserKey := true
	if key == "" {
		if model.RequiresUserKey {
			return nil, apierr.ModelAccessDenied(modelID)
		}
		key = appKey
		usedUserKey = false
	}
	if key == "" {
		return nil, apierr.ModelAccessDenied(modelID)
	}

	var p Provider
	switch model.Provider {
	case ProviderOpenAI:
		p = NewOpenAIProvider(model.BaseURL, key, log)
	case ProviderAnthropic:
		p = NewAnthropicProvider(model.BaseURL, key, log)
	default:
		return nil, apierr.NotFound("provider " + model.Provider)
	}
	return &Binding{Model: model, Provider: p, UsedUserKey: usedUserKey}, nil
}

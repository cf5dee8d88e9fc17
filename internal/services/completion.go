package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threadloom/threadloom-backend/internal/data/actor"
	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/tools"
)

// CompletionRequest is the streaming endpoint payload.
type CompletionRequest struct {
	Messages       []types.Message `json:"messages"`
	ConversationID string          `json:"conversationId"`
	ModelID        string          `json:"modelId"`
}

// StreamEmitter receives the event stream of one completion.
type StreamEmitter interface {
	TextDelta(delta string)
	ToolCall(call llm.ToolCall)
	ToolResult(call llm.ToolCall, result string, failed bool)
	Finish(usage *types.TokenUsage, modelID string)
}

// ToolPool is the per-request tool surface the orchestrator drives.
type ToolPool interface {
	Tools() []llm.ToolDef
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	CloseAll()
}

type CompletionConfig struct {
	DefaultModelID   string
	HistoryWindow    int
	MaxToolSteps     int
	WebSearchEnabled bool
	SearchAPIKey     string
}

type CompletionService interface {
	Complete(ctx context.Context, userID uuid.UUID, req CompletionRequest, emitter StreamEmitter) error
}

type completionService struct {
	actors      actor.Client
	settings    SettingsService
	usage       UsageService
	toolServers ToolServerService
	titles      TitleService
	catalog     *llm.Catalog
	appKeys     map[string]string
	cfg         CompletionConfig
	log         *logger.Logger

	// Seams for tests.
	resolveBinding func(catalog *llm.Catalog, modelID string, keys llm.Keys, log *logger.Logger) (*llm.Binding, error)
	openPool       func(ctx context.Context, configs []types.ToolServerConfig, locals []tools.LocalTool, log *logger.Logger) ToolPool
}

func NewCompletionService(
	actors actor.Client,
	settings SettingsService,
	usage UsageService,
	toolServers ToolServerService,
	titles TitleService,
	catalog *llm.Catalog,
	appKeys map[string]string,
	cfg CompletionConfig,
	log *logger.Logger,
) CompletionService {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 50
	}
	if cfg.MaxToolSteps <= 0 {
		cfg.MaxToolSteps = 5
	}
	return &completionService{
		actors:         actors,
		settings:       settings,
		usage:          usage,
		toolServers:    toolServers,
		titles:         titles,
		catalog:        catalog,
		appKeys:        appKeys,
		cfg:            cfg,
		log:            log.With("service", "CompletionService"),
		resolveBinding: llm.ResolveBinding,
		openPool: func(ctx context.Context, configs []types.ToolServerConfig, locals []tools.LocalTool, log *logger.Logger) ToolPool {
			return tools.Open(ctx, configs, locals, log)
		},
	}
}

func validateCompletionRequest(req CompletionRequest) error {
	if req.ConversationID == "" {
		return apierr.Validation(fmt.Errorf("conversationId is required"))
	}
	if len(req.Messages) == 0 {
		return apierr.Validation(fmt.Errorf("messages must not be empty"))
	}
	for i, m := range req.Messages {
		if m.ID == "" {
			return apierr.Validation(fmt.Errorf("message %d has no id", i))
		}
		if !types.ValidRole(m.Role) {
			return apierr.Validation(fmt.Errorf("message %d has invalid role %q", i, m.Role))
		}
	}
	return nil
}

func (cs *completionService) Complete(ctx context.Context, userID uuid.UUID, req CompletionRequest, emitter StreamEmitter) error {
	if err := validateCompletionRequest(req); err != nil {
		return err
	}

	settings, err := cs.settings.Get(ctx, userID)
	if err != nil {
		return err
	}
	userKeys, err := cs.settings.PlainKeys(ctx, userID)
	if err != nil {
		return err
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = settings.DefaultModelID
	}
	if modelID == "" {
		modelID = cs.cfg.DefaultModelID
	}
	model, ok := cs.catalog.Lookup(modelID)
	if !ok {
		return apierr.NotFound("model " + modelID)
	}

	// Fail fast before any provider or tool-server work.
	if err := cs.usage.RequireAvailableQuota(ctx, userID, model.Provider, userKeys); err != nil {
		return err
	}

	binding, err := cs.resolveBinding(cs.catalog, modelID, llm.Keys{User: userKeys, App: cs.appKeys}, cs.log)
	if err != nil {
		return err
	}

	configs, err := cs.toolServers.EnabledConfigs(ctx, userID, settings)
	if err != nil {
		return err
	}
	var locals []tools.LocalTool
	if cs.cfg.WebSearchEnabled && settings.WebSearchEnabled && cs.cfg.SearchAPIKey != "" {
		locals = append(locals, tools.NewWebSearch(cs.cfg.SearchAPIKey))
	}
	pool := cs.openPool(ctx, configs, locals, cs.log)
	// Runs on caller disconnect too, tool clients must never outlive the
	// request.
	defer pool.CloseAll()

	// Persist the trailing user turn before streaming so a mid-stream crash
	// cannot lose the question.
	last := req.Messages[len(req.Messages)-1]
	if last.Role == types.RoleUser {
		if _, err := cs.actors.UpsertConversation(ctx, userID, req.ConversationID, nil); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		if _, err := cs.actors.AppendMessages(ctx, userID, req.ConversationID, []types.Message{last}); err != nil {
			return fmt.Errorf("persist user turn: %w", err)
		}
	}

	stored, _, err := cs.actors.ListMessages(ctx, userID, req.ConversationID, cs.cfg.HistoryWindow, nil)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	merged := MergeMessages(stored, req.Messages, cs.cfg.HistoryWindow)

	streamReq := llm.StreamRequest{
		Model:           binding.Model.ID,
		ReasoningEffort: settings.ReasoningEffort,
		Tools:           pool.Tools(),
	}
	for i := range merged {
		streamReq.Messages = append(streamReq.Messages, llm.ChatMessage{
			Role:    merged[i].Role,
			Content: merged[i].Text(),
		})
	}

	res, err := llm.RunWithTools(ctx, binding.Provider, streamReq, pool, cs.cfg.MaxToolSteps, llm.RunCallbacks{
		OnTextDelta: emitter.TextDelta,
		OnToolCall:  emitter.ToolCall,
		OnToolResult: func(call llm.ToolCall, result string, cerr error) {
			emitter.ToolResult(call, result, cerr != nil)
		},
	}, cs.log)
	if err != nil {
		return fmt.Errorf("model stream: %w", err)
	}

	cs.finish(ctx, userID, req.ConversationID, last, binding, res)
	emitter.Finish(res.Usage, binding.Model.ID)
	return nil
}

// finish persists the assistant turn, kicks off title generation and
// records usage. Only the primary stream result has already been delivered;
// everything here is durable bookkeeping and must not panic the request.
func (cs *completionService) finish(ctx context.Context, userID uuid.UUID, conversationID string, lastIncoming types.Message, binding *llm.Binding, res *llm.Result) {
	if res.Text != "" {
		assistant := types.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Role:           types.RoleAssistant,
			Content:        res.Text,
			CreatedAt:      time.Now().UTC(),
		}
		if _, err := cs.actors.AppendMessages(ctx, userID, conversationID, []types.Message{assistant}); err != nil {
			cs.log.Error("failed to persist assistant turn", "conversation_id", conversationID, "error", err)
		}
	}

	if lastIncoming.Role == types.RoleUser {
		userText := lastIncoming.Text()
		assistantText := res.Text
		go func() {
			defer func() {
				if r := recover(); r != nil {
					cs.log.Error("title generation panicked", "conversation_id", conversationID, "panic", r)
				}
			}()
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			cs.titles.MaybeGenerateTitle(tctx, userID, conversationID, userText, assistantText)
		}()
	}

	if res.Usage != nil {
		if err := cs.usage.RecordUsage(ctx, userID, binding.Model.ID, *res.Usage); err != nil {
			cs.log.Error("failed to record usage", "conversation_id", conversationID, "error", err)
		}
	}
}

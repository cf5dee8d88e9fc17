package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/threadloom/threadloom-backend/internal/data/actor"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/sse"
)

const titleMaxLen = 80

// TitleGenerator produces a short conversation title from the first
// exchange.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, userText, assistantText string) (string, error)
}

type TitleService interface {
	// MaybeGenerateTitle is best-effort: every failure is logged and
	// swallowed, an untitled conversation just retries on a later turn.
	MaybeGenerateTitle(ctx context.Context, userID uuid.UUID, conversationID, userText, assistantText string)
}

type titleService struct {
	actors    actor.Client
	generator TitleGenerator
	bus       SSEBus
	log       *logger.Logger
}

func NewTitleService(actors actor.Client, generator TitleGenerator, bus SSEBus, log *logger.Logger) TitleService {
	return &titleService{
		actors:    actors,
		generator: generator,
		bus:       bus,
		log:       log.With("service", "TitleService"),
	}
}

func (ts *titleService) MaybeGenerateTitle(ctx context.Context, userID uuid.UUID, conversationID, userText, assistantText string) {
	if strings.TrimSpace(userText) == "" || strings.TrimSpace(assistantText) == "" {
		return
	}
	conv, err := ts.actors.GetConversation(ctx, userID, conversationID)
	if err != nil {
		ts.log.Warn("title generation skipped, conversation load failed", "conversation_id", conversationID, "error", err)
		return
	}
	if conv == nil || conv.Title != nil {
		return
	}

	title, err := ts.generator.GenerateTitle(ctx, userText, assistantText)
	if err != nil {
		ts.log.Warn("title generation failed", "conversation_id", conversationID, "error", err)
		return
	}
	title = sanitizeTitle(title)
	if title == "" {
		return
	}

	if _, err := ts.actors.UpsertConversation(ctx, userID, conversationID, &title); err != nil {
		ts.log.Warn("title save failed", "conversation_id", conversationID, "error", err)
		return
	}

	if err := ts.bus.Publish(ctx, sse.SSEMessage{
		Channel: sse.UserChannel(userID),
		Event:   sse.SSEEventConversationTitleUpdated,
		Data:    map[string]string{"conversation_id": conversationID, "title": title},
	}); err != nil {
		ts.log.Warn("title event publish failed", "conversation_id", conversationID, "error", err)
	}
}

func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'`)
	title = strings.ReplaceAll(title, "\n", " ")
	if len(title) > titleMaxLen {
		title = strings.TrimSpace(title[:titleMaxLen])
	}
	return title
}

// llmTitleGenerator asks a cheap catalog model for a title.
type llmTitleGenerator struct {
	catalog *llm.Catalog
	modelID string
	appKeys map[string]string
	log     *logger.Logger
}

func NewLLMTitleGenerator(catalog *llm.Catalog, modelID string, appKeys map[string]string, log *logger.Logger) TitleGenerator {
	return &llmTitleGenerator{catalog: catalog, modelID: modelID, appKeys: appKeys, log: log}
}

func (g *llmTitleGenerator) GenerateTitle(ctx context.Context, userText, assistantText string) (string, error) {
	binding, err := llm.ResolveBinding(g.catalog, g.modelID, llm.Keys{App: g.appKeys}, g.log)
	if err != nil {
		return "", err
	}
	res, err := binding.Provider.Stream(ctx, llm.StreamRequest{
		Model: binding.Model.ID,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "Write a concise title (max 6 words) for the conversation. Reply with the title only, no quotes."},
			{Role: "user", Content: "User: " + userText + "\n\nAssistant: " + assistantText},
		},
		MaxTokens: 30,
	}, llm.StreamCallbacks{})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/threadloom/threadloom-backend/internal/data/actor"
	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/http/response"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/services"
	"github.com/threadloom/threadloom-backend/internal/sse"
)

type ChatHandler struct {
	log         *logger.Logger
	completions services.CompletionService
	bus         services.SSEBus
}

func NewChatHandler(log *logger.Logger, completions services.CompletionService, bus services.SSEBus) *ChatHandler {
	return &ChatHandler{
		log:         log.With("handler", "ChatHandler"),
		completions: completions,
		bus:         bus,
	}
}

// ConversationHandler serves the history endpoints straight off the
// per-user store; the completion path goes through the service.
type ConversationHandler struct {
	log    *logger.Logger
	actors actor.Client
	bus    services.SSEBus
}

func NewConversationHandler(log *logger.Logger, actors actor.Client, bus services.SSEBus) *ConversationHandler {
	return &ConversationHandler{
		log:    log.With("handler", "ConversationHandler"),
		actors: actors,
		bus:    bus,
	}
}

func (ch *ConversationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	convs, err := ch.actors.ListConversations(c.Request.Context(), userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convs})
}

func (ch *ConversationHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conv, err := ch.actors.GetConversation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

func (ch *ConversationHandler) Upsert(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req struct {
		Title *string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	conv, err := ch.actors.UpsertConversation(c.Request.Context(), userID, c.Param("id"), req.Title)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

func (ch *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := ch.actors.DeleteConversation(c.Request.Context(), userID, id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if err := ch.bus.Publish(c.Request.Context(), sse.SSEMessage{
		Channel: sse.UserChannel(userID),
		Event:   sse.SSEEventConversationDeleted,
		Data:    map[string]any{"conversation_id": id},
	}); err != nil {
		ch.log.Warn("publish delete event failed", "error", err)
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ch *ConversationHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	var cursor *int64
	if raw := c.Query("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid cursor %q", raw))
			return
		}
		cursor = &n
	}
	msgs, next, err := ch.actors.ListMessages(c.Request.Context(), userID, c.Param("id"), limit, cursor)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"items": msgs, "nextCursor": next})
}

func (ch *ConversationHandler) AppendMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req struct {
		Messages []types.Message `json:"messages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	count, err := ch.actors.AppendMessages(c.Request.Context(), userID, c.Param("id"), req.Messages)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"count": count})
}

// Completions streams one model turn over SSE. Errors before the first
// byte are plain JSON; once the stream is open they become error events.
func (ch *ChatHandler) Completions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req services.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	emitter := newSSEEmitter(c)
	err := ch.completions.Complete(c.Request.Context(), userID, req, emitter)
	if err != nil {
		if !emitter.started {
			response.RespondAPIError(c, err)
			return
		}
		emitter.Event("error", gin.H{"message": err.Error(), "code": errorCode(err)})
	}
}

func errorCode(err error) string {
	if ae := apierr.As(err); ae != nil {
		return ae.Code
	}
	return "internal_error"
}

// sseEmitter adapts the completion event stream onto the HTTP response.
type sseEmitter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func newSSEEmitter(c *gin.Context) *sseEmitter {
	flusher, _ := c.Writer.(http.Flusher)
	return &sseEmitter{c: c, flusher: flusher}
}

func (e *sseEmitter) start() {
	if e.started {
		return
	}
	e.started = true
	h := e.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.c.Writer.WriteHeader(http.StatusOK)
}

func (e *sseEmitter) Event(event string, payload any) {
	e.start()
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(e.c.Writer, "event: %s\ndata: %s\n\n", event, data)
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

func (e *sseEmitter) TextDelta(delta string) {
	e.Event("text-delta", gin.H{"delta": delta})
}

func (e *sseEmitter) ToolCall(call llm.ToolCall) {
	e.Event("tool-call", gin.H{
		"id":        call.ID,
		"name":      call.Name,
		"arguments": call.Arguments,
	})
}

func (e *sseEmitter) ToolResult(call llm.ToolCall, result string, failed bool) {
	// Large tool outputs are trimmed on the wire; the model already saw
	// the full text.
	e.Event("tool-result", gin.H{
		"id":     call.ID,
		"name":   call.Name,
		"result": truncate(result, 4096),
		"failed": failed,
	})
}

func (e *sseEmitter) Finish(usage *types.TokenUsage, modelID string) {
	e.Event("finish", gin.H{"usage": usage, "modelId": modelID})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "") + "…"
}

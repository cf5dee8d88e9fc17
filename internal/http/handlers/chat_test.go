package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/requestdata"
	"github.com/threadloom/threadloom-backend/internal/services"
)

type scriptedCompletion struct {
	run func(emitter services.StreamEmitter) error
}

func (s *scriptedCompletion) Complete(_ context.Context, _ uuid.UUID, _ services.CompletionRequest, emitter services.StreamEmitter) error {
	return s.run(emitter)
}

func testRouter(t *testing.T, completions services.CompletionService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	bus := services.NewLocalSSEBus(log)
	handler := NewChatHandler(log, completions, bus)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: uuid.New()})
		c.Request = c.Request.WithContext(ctx)
	})
	r.POST("/api/chat/completions", handler.Completions)
	return r
}

func TestCompletionsStreamsSSE(t *testing.T) {
	r := testRouter(t, &scriptedCompletion{run: func(emitter services.StreamEmitter) error {
		emitter.TextDelta("Hel")
		emitter.TextDelta("lo")
		emitter.Finish(&types.TokenUsage{InputTokens: 3, OutputTokens: 2}, "gpt-4o")
		return nil
	}})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/completions",
		strings.NewReader(`{"conversationId":"c1","messages":[{"id":"u1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"event: text-delta\ndata: {\"delta\":\"Hel\"}",
		"event: text-delta\ndata: {\"delta\":\"lo\"}",
		"event: finish\n",
		"\"modelId\":\"gpt-4o\"",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}
}

func TestCompletionsPreStreamErrorIsJSON(t *testing.T) {
	r := testRouter(t, &scriptedCompletion{run: func(services.StreamEmitter) error {
		return apierr.QuotaExceeded(apierr.QuotaDaily)
	}})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/completions",
		strings.NewReader(`{"conversationId":"c1","messages":[{"id":"u1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type: %q", ct)
	}
	if !strings.Contains(w.Body.String(), "quota_exceeded") {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestCompletionsMidStreamErrorBecomesEvent(t *testing.T) {
	r := testRouter(t, &scriptedCompletion{run: func(emitter services.StreamEmitter) error {
		emitter.TextDelta("partial")
		return apierr.Validation(nil)
	}})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/completions",
		strings.NewReader(`{"conversationId":"c1","messages":[{"id":"u1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("stream already started, status must stay 200: %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: text-delta") || !strings.Contains(body, "event: error") {
		t.Fatalf("body: %s", body)
	}
}

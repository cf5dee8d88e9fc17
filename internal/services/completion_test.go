package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/tools"
)

type fakeSettings struct {
	settings types.UserSettings
	keys     map[string]string
}

func (f *fakeSettings) Get(context.Context, uuid.UUID) (*types.UserSettings, error) {
	s := f.settings
	return &s, nil
}
func (f *fakeSettings) Update(context.Context, uuid.UUID, SettingsUpdate) (*types.UserSettings, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeSettings) SetAPIKey(context.Context, uuid.UUID, string, string) error {
	return errors.New("not implemented")
}
func (f *fakeSettings) PlainKeys(context.Context, uuid.UUID) (map[string]string, error) {
	return f.keys, nil
}

type fakeUsage struct {
	gateErr  error
	gated    int
	recorded []types.TokenUsage
}

func (f *fakeUsage) CurrentSummary(context.Context, uuid.UUID) (*UsageSummary, error) {
	return &UsageSummary{}, nil
}
func (f *fakeUsage) RequireAvailableQuota(context.Context, uuid.UUID, string, map[string]string) error {
	f.gated++
	return f.gateErr
}
func (f *fakeUsage) RecordUsage(_ context.Context, _ uuid.UUID, _ string, tu types.TokenUsage) error {
	f.recorded = append(f.recorded, tu)
	return nil
}
func (f *fakeUsage) Stats(context.Context, uuid.UUID, *time.Time, *time.Time) (*UsageStats, error) {
	return &UsageStats{}, nil
}

type fakeToolServers struct{}

func (fakeToolServers) List(context.Context, uuid.UUID) ([]types.ToolServerConfig, error) {
	return nil, nil
}
func (fakeToolServers) Create(context.Context, uuid.UUID, ToolServerInput) (*types.ToolServer, error) {
	return nil, errors.New("not implemented")
}
func (fakeToolServers) Update(context.Context, uuid.UUID, uuid.UUID, ToolServerInput) (*types.ToolServer, error) {
	return nil, errors.New("not implemented")
}
func (fakeToolServers) Delete(context.Context, uuid.UUID, uuid.UUID) error {
	return errors.New("not implemented")
}
func (fakeToolServers) EnabledConfigs(context.Context, uuid.UUID, *types.UserSettings) ([]types.ToolServerConfig, error) {
	return nil, nil
}

type fakeTitles struct {
	called chan struct{}
}

func (f *fakeTitles) MaybeGenerateTitle(context.Context, uuid.UUID, string, string, string) {
	select {
	case f.called <- struct{}{}:
	default:
	}
}

type fakePool struct {
	closed bool
}

func (p *fakePool) Tools() []llm.ToolDef { return nil }
func (p *fakePool) Call(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("no tools")
}
func (p *fakePool) CloseAll() { p.closed = true }

type stubProvider struct {
	res    *llm.Result
	err    error
	called int
}

func (s *stubProvider) Stream(_ context.Context, _ llm.StreamRequest, cb llm.StreamCallbacks) (*llm.Result, error) {
	s.called++
	if s.err != nil {
		return nil, s.err
	}
	if cb.OnTextDelta != nil && s.res.Text != "" {
		cb.OnTextDelta(s.res.Text)
	}
	return s.res, nil
}

type captureEmitter struct {
	deltas   []string
	finished bool
	usage    *types.TokenUsage
	modelID  string
}

func (e *captureEmitter) TextDelta(d string)                         { e.deltas = append(e.deltas, d) }
func (e *captureEmitter) ToolCall(llm.ToolCall)                      {}
func (e *captureEmitter) ToolResult(llm.ToolCall, string, bool)      {}
func (e *captureEmitter) Finish(u *types.TokenUsage, modelID string) {
	e.finished = true
	e.usage = u
	e.modelID = modelID
}

func newTestCompletion(t *testing.T, provider llm.Provider, usage *fakeUsage, titles *fakeTitles) (*completionService, *fakePool) {
	t.Helper()
	actors := testActors(t)
	pool := &fakePool{}
	cs := &completionService{
		actors:      actors,
		settings:    &fakeSettings{settings: *defaultSettings(uuid.New())},
		usage:       usage,
		toolServers: fakeToolServers{},
		titles:      titles,
		catalog:     llm.DefaultCatalog(),
		appKeys:     map[string]string{"openai": "sk-app"},
		cfg:         CompletionConfig{DefaultModelID: "gpt-4o", HistoryWindow: 50, MaxToolSteps: 5},
		log:         svcLog(t),
		resolveBinding: func(catalog *llm.Catalog, modelID string, _ llm.Keys, _ *logger.Logger) (*llm.Binding, error) {
			model, _ := catalog.Lookup(modelID)
			return &llm.Binding{Model: model, Provider: provider}, nil
		},
		openPool: func(context.Context, []types.ToolServerConfig, []tools.LocalTool, *logger.Logger) ToolPool {
			return pool
		},
	}
	return cs, pool
}

func userTurn(id, text string) types.Message {
	return types.Message{ID: id, Role: types.RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

func TestCompleteHappyPath(t *testing.T) {
	provider := &stubProvider{res: &llm.Result{
		Text:         "sure, here is the answer",
		Usage:        &types.TokenUsage{InputTokens: 9, OutputTokens: 4},
		FinishReason: "stop",
	}}
	usage := &fakeUsage{}
	titles := &fakeTitles{called: make(chan struct{}, 1)}
	cs, pool := newTestCompletion(t, provider, usage, titles)
	userID := uuid.New()

	emitter := &captureEmitter{}
	err := cs.Complete(context.Background(), userID, CompletionRequest{
		ConversationID: "conv-1",
		Messages:       []types.Message{userTurn("u1", "what is Go?")},
	}, emitter)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if !emitter.finished || emitter.modelID != "gpt-4o" {
		t.Fatalf("finish event: %+v", emitter)
	}
	if len(emitter.deltas) == 0 {
		t.Fatal("no text deltas streamed")
	}
	if !pool.closed {
		t.Fatal("tool pool not closed")
	}
	if len(usage.recorded) != 1 || usage.recorded[0].InputTokens != 9 {
		t.Fatalf("usage not recorded: %+v", usage.recorded)
	}

	msgs, _, err := cs.actors.ListMessages(context.Background(), userID, "conv-1", 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want user + assistant rows, got %+v", msgs)
	}
	if msgs[0].ID != "u1" || msgs[1].Role != types.RoleAssistant || msgs[1].Content != "sure, here is the answer" {
		t.Fatalf("persisted turns wrong: %+v", msgs)
	}

	select {
	case <-titles.called:
	case <-time.After(2 * time.Second):
		t.Fatal("title generation never attempted")
	}
}

func TestCompleteQuotaFailsFast(t *testing.T) {
	provider := &stubProvider{res: &llm.Result{Text: "x"}}
	usage := &fakeUsage{gateErr: apierr.QuotaExceeded(apierr.QuotaDaily)}
	cs, _ := newTestCompletion(t, provider, usage, &fakeTitles{called: make(chan struct{}, 1)})
	userID := uuid.New()

	err := cs.Complete(context.Background(), userID, CompletionRequest{
		ConversationID: "conv-1",
		Messages:       []types.Message{userTurn("u1", "hello")},
	}, &captureEmitter{})

	var qe *apierr.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if provider.called != 0 {
		t.Fatal("provider must not be called after quota failure")
	}
	msgs, _, lerr := cs.actors.ListMessages(context.Background(), userID, "conv-1", 0, nil)
	if lerr != nil {
		t.Fatalf("list: %v", lerr)
	}
	if len(msgs) != 0 {
		t.Fatal("nothing may be persisted after quota failure")
	}
}

func TestCompleteValidation(t *testing.T) {
	cs, _ := newTestCompletion(t, &stubProvider{res: &llm.Result{}}, &fakeUsage{}, &fakeTitles{called: make(chan struct{}, 1)})

	cases := []CompletionRequest{
		{Messages: []types.Message{userTurn("u1", "x")}},
		{ConversationID: "c"},
		{ConversationID: "c", Messages: []types.Message{{ID: "u1", Role: "robot", Content: "x"}}},
		{ConversationID: "c", Messages: []types.Message{{Role: types.RoleUser, Content: "x"}}},
	}
	for i, req := range cases {
		err := cs.Complete(context.Background(), uuid.New(), req, &captureEmitter{})
		ae := apierr.As(err)
		if ae == nil || ae.Code != apierr.CodeValidation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCompleteStreamFailureKeepsUserTurn(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream reset")}
	cs, pool := newTestCompletion(t, provider, &fakeUsage{}, &fakeTitles{called: make(chan struct{}, 1)})
	userID := uuid.New()

	emitter := &captureEmitter{}
	err := cs.Complete(context.Background(), userID, CompletionRequest{
		ConversationID: "conv-1",
		Messages:       []types.Message{userTurn("u1", "question")},
	}, emitter)
	if err == nil {
		t.Fatal("stream failure must surface")
	}
	if emitter.finished {
		t.Fatal("finish must not fire on stream failure")
	}
	if !pool.closed {
		t.Fatal("tool pool must close on failure too")
	}

	msgs, _, lerr := cs.actors.ListMessages(context.Background(), userID, "conv-1", 0, nil)
	if lerr != nil {
		t.Fatalf("list: %v", lerr)
	}
	if len(msgs) != 1 || msgs[0].ID != "u1" {
		t.Fatalf("user turn must stay durable: %+v", msgs)
	}
}

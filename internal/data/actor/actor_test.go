package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r := NewRegistry(Options{DataDir: t.TempDir(), IdleTTL: time.Minute}, log)
	t.Cleanup(r.Close)
	return r
}

func mkMsg(id, role, content string, at time.Time) types.Message {
	return types.Message{ID: id, Role: role, Content: content, CreatedAt: at}
}

func TestAppendIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()
	at := time.Now().UTC().Truncate(time.Millisecond)

	m1 := mkMsg("m1", types.RoleUser, "hello", at)
	count, err := r.AppendMessages(ctx, userID, "conv-1", []types.Message{m1, m1})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 inserted row, got %d", count)
	}

	count, err = r.AppendMessages(ctx, userID, "conv-1", []types.Message{m1})
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 inserted rows on duplicate-only batch, got %d", count)
	}

	msgs, next, err := r.ListMessages(ctx, userID, "conv-1", 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("expected exactly [m1], got %+v", msgs)
	}
	if next != nil {
		t.Fatalf("expected nil cursor, got %d", *next)
	}
}

func TestPaginationCompleteness(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)

	const total = 25
	batch := make([]types.Message, 0, total)
	for i := 0; i < total; i++ {
		batch = append(batch, mkMsg(fmt.Sprintf("m%02d", i), types.RoleUser, "x", base.Add(time.Duration(i)*time.Second)))
	}
	if _, err := r.AppendMessages(ctx, userID, "conv-1", batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Walk backward from the newest page; each page itself is ascending.
	seen := map[string]bool{}
	var pages [][]types.Message
	var cursor *int64
	for {
		msgs, next, err := r.ListMessages(ctx, userID, "conv-1", 10, cursor)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, m := range msgs {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		for i := 1; i < len(msgs); i++ {
			if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
				t.Fatalf("page not ascending at %s", msgs[i].ID)
			}
		}
		pages = append(pages, msgs)
		if next == nil {
			break
		}
		cursor = next
	}
	if len(seen) != total {
		t.Fatalf("expected %d unique messages, got %d", total, len(seen))
	}
	// Pages arrive newest-first, so concatenating in reverse must be the
	// full ascending sequence.
	var all []types.Message
	for i := len(pages) - 1; i >= 0; i-- {
		all = append(all, pages[i]...)
	}
	for i, m := range all {
		want := fmt.Sprintf("m%02d", i)
		if m.ID != want {
			t.Fatalf("position %d: want %s, got %s", i, want, m.ID)
		}
	}
}

func TestUpdatedMatchesBatchMax(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	batch := []types.Message{
		mkMsg("a", types.RoleUser, "q", base),
		mkMsg("b", types.RoleAssistant, "r", base.Add(3*time.Second)),
		mkMsg("c", types.RoleUser, "q2", base.Add(time.Second)),
	}
	if _, err := r.AppendMessages(ctx, userID, "conv-1", batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	c, err := r.GetConversation(ctx, userID, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c == nil {
		t.Fatal("conversation not created by append")
	}
	want := base.Add(3 * time.Second)
	if !c.UpdatedAt.Equal(want) {
		t.Fatalf("updated_at: want %v, got %v", want, c.UpdatedAt)
	}
}

func TestBatchCapWritesNothing(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()
	at := time.Now().UTC()

	batch := make([]types.Message, 0, MaxBatch+1)
	for i := 0; i <= MaxBatch; i++ {
		batch = append(batch, mkMsg(fmt.Sprintf("m%03d", i), types.RoleUser, "x", at))
	}
	_, err := r.AppendMessages(ctx, userID, "conv-1", batch)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != apierr.CodeBatchTooLarge {
		t.Fatalf("expected batch_too_large, got %v", err)
	}

	c, err := r.GetConversation(ctx, userID, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c != nil {
		t.Fatal("oversized batch must not create the conversation")
	}
	msgs, _, err := r.ListMessages(ctx, userID, "conv-1", 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("oversized batch must write nothing, got %d rows", len(msgs))
	}
}

func TestDeleteConversation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := r.AppendMessages(ctx, userID, "conv-1", []types.Message{
		mkMsg("a", types.RoleUser, "hi", time.Now().UTC()),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := r.DeleteConversation(ctx, userID, "conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msgs, _, err := r.ListMessages(ctx, userID, "conv-1", 0, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatal("messages survived conversation delete")
	}
	c, err := r.GetConversation(ctx, userID, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c != nil {
		t.Fatal("conversation row survived delete")
	}

	err = r.DeleteConversation(ctx, userID, "conv-1")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != apierr.CodeConversationNotFound {
		t.Fatalf("expected conversation_not_found, got %v", err)
	}
}

func TestUpsertConversation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()

	c, err := r.UpsertConversation(ctx, userID, "conv-1", nil)
	if err != nil {
		t.Fatalf("upsert create: %v", err)
	}
	if c.Title != nil {
		t.Fatalf("fresh conversation should have no title, got %q", *c.Title)
	}

	title := "kubernetes debugging"
	c, err = r.UpsertConversation(ctx, userID, "conv-1", &title)
	if err != nil {
		t.Fatalf("upsert title: %v", err)
	}
	if c.Title == nil || *c.Title != title {
		t.Fatalf("title not applied: %+v", c)
	}

	// nil title on an existing row must not clear it.
	c, err = r.UpsertConversation(ctx, userID, "conv-1", nil)
	if err != nil {
		t.Fatalf("upsert keep: %v", err)
	}
	if c.Title == nil || *c.Title != title {
		t.Fatalf("nil title cleared existing title: %+v", c)
	}
}

func TestUsageAccumulates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()
	day := int64(20000)

	d, err := r.UsageDay(ctx, userID, day)
	if err != nil {
		t.Fatalf("usage day: %v", err)
	}
	if d.MessagesCount != 0 {
		t.Fatalf("missing bucket should read as zero, got %d", d.MessagesCount)
	}

	for i := 0; i < 3; i++ {
		if err := r.AddUsage(ctx, userID, day, "gpt-test", types.TokenUsage{InputTokens: 10, OutputTokens: 5}); err != nil {
			t.Fatalf("add usage: %v", err)
		}
	}
	if err := r.AddUsage(ctx, userID, day+1, "claude-test", types.TokenUsage{InputTokens: 1, OutputTokens: 2, ReasoningTokens: 3}); err != nil {
		t.Fatalf("add usage next day: %v", err)
	}

	d, err = r.UsageDay(ctx, userID, day)
	if err != nil {
		t.Fatalf("usage day: %v", err)
	}
	if d.MessagesCount != 3 {
		t.Fatalf("messages_count: want 3, got %d", d.MessagesCount)
	}
	mm := d.ModelMap()
	if mm["gpt-test"].InputTokens != 30 || mm["gpt-test"].OutputTokens != 15 || mm["gpt-test"].Messages != 3 {
		t.Fatalf("model rollup wrong: %+v", mm["gpt-test"])
	}

	days, err := r.UsageRange(ctx, userID, day, day+1)
	if err != nil {
		t.Fatalf("usage range: %v", err)
	}
	if len(days) != 2 || days[0].Day != day || days[1].Day != day+1 {
		t.Fatalf("range wrong: %+v", days)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	if _, err := r.AppendMessages(ctx, u1, "conv-1", []types.Message{
		mkMsg("a", types.RoleUser, "hi", time.Now().UTC()),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	convs, err := r.ListConversations(ctx, u2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("user 2 sees user 1's conversations: %+v", convs)
	}
}

func TestSerializedAppends(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.AppendMessages(ctx, userID, "conv-1", []types.Message{
				mkMsg(fmt.Sprintf("m%02d", i), types.RoleUser, "x", base.Add(time.Duration(i)*time.Millisecond)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	msgs, _, err := r.ListMessages(ctx, userID, "conv-1", MaxPageSize, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("want %d rows, got %d", n, len(msgs))
	}
}

func TestEvictionRehydrates(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r := NewRegistry(Options{DataDir: t.TempDir(), IdleTTL: 50 * time.Millisecond}, log)
	t.Cleanup(r.Close)

	ctx := context.Background()
	userID := uuid.New()
	if _, err := r.AppendMessages(ctx, userID, "conv-1", []types.Message{
		mkMsg("a", types.RoleUser, "hi", time.Now().UTC()),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Let the idle timer fire and the actor tear down.
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		gone := len(r.actors) == 0
		r.mu.Unlock()
		if gone {
			break
		}
		select {
		case <-deadline:
			t.Fatal("actor never evicted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	msgs, _, err := r.ListMessages(ctx, userID, "conv-1", 0, nil)
	if err != nil {
		t.Fatalf("list after eviction: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "a" {
		t.Fatalf("state lost across eviction: %+v", msgs)
	}
}

func TestCloseRacesIdleEviction(t *testing.T) {
	// Idle self-eviction and Close both stop the same actor; neither path
	// may close the stopping channel twice. Run the window many times, a
	// double close panics the process.
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		log, err := logger.New("test")
		if err != nil {
			t.Fatalf("logger: %v", err)
		}
		r := NewRegistry(Options{DataDir: t.TempDir(), IdleTTL: time.Millisecond}, log)
		userID := uuid.New()
		if _, err := r.ListConversations(ctx, userID); err != nil {
			t.Fatalf("op: %v", err)
		}
		time.Sleep(time.Millisecond)
		r.Close()
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r := NewRegistry(Options{DataDir: t.TempDir(), IdleTTL: time.Minute}, log)

	ctx := context.Background()
	userID := uuid.New()
	if _, err := r.ListConversations(ctx, userID); err != nil {
		t.Fatalf("op before close: %v", err)
	}
	r.Close()

	if _, err := r.ListConversations(ctx, userID); err == nil {
		t.Fatal("operations after Close must fail")
	}
	r.mu.Lock()
	spawned := len(r.actors)
	r.mu.Unlock()
	if spawned != 0 {
		t.Fatalf("closed registry spawned %d actors", spawned)
	}
}

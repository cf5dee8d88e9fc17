package actor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

// Client is the RPC surface the rest of the backend sees. Every call for a
// given user is serialized by that user's actor; different users run fully
// independently.
type Client interface {
	ListConversations(ctx context.Context, userID uuid.UUID) ([]types.Conversation, error)
	GetConversation(ctx context.Context, userID uuid.UUID, id string) (*types.Conversation, error)
	UpsertConversation(ctx context.Context, userID uuid.UUID, id string, title *string) (*types.Conversation, error)
	DeleteConversation(ctx context.Context, userID uuid.UUID, id string) error
	ListMessages(ctx context.Context, userID uuid.UUID, conversationID string, limit int, cursor *int64) ([]types.Message, *int64, error)
	AppendMessages(ctx context.Context, userID uuid.UUID, conversationID string, msgs []types.Message) (int64, error)

	UsageDay(ctx context.Context, userID uuid.UUID, day int64) (*types.UsageDay, error)
	AddUsage(ctx context.Context, userID uuid.UUID, day int64, modelID string, tu types.TokenUsage) error
	UsageRange(ctx context.Context, userID uuid.UUID, from, to int64) ([]types.UsageDay, error)
}

type Options struct {
	DataDir     string
	IdleTTL     time.Duration
	MailboxSize int
}

// Registry spawns and routes to per-user actors. Idle actors evict
// themselves after IdleTTL and are rehydrated from their database file on
// the next access.
type Registry struct {
	mu     sync.Mutex
	actors map[uuid.UUID]*userActor
	opts   Options
	log    *logger.Logger
	closed bool
}

func NewRegistry(opts Options, log *logger.Logger) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 5 * time.Minute
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}
	return &Registry{
		actors: make(map[uuid.UUID]*userActor),
		opts:   opts,
		log:    log.With("component", "ActorRegistry"),
	}
}

// get returns the user's actor, spawning one if needed. Returns nil after
// Close so a request racing shutdown cannot resurrect an actor that nobody
// would ever stop.
func (r *Registry) get(userID uuid.UUID) *userActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if a, ok := r.actors[userID]; ok {
		return a
	}
	path := filepath.Join(r.opts.DataDir, "users", userID.String()+".db")
	a := newUserActor(userID, path, r.opts.IdleTTL, r.opts.MailboxSize, r.log, r.evict)
	r.actors[userID] = a
	return a
}

// evict removes the actor from the routing table first, so concurrent
// callers spawn a fresh actor instead of racing the shutdown, then signals
// the loop to stop accepting work. The actual close of the stopping
// channel lives behind the actor's own Once: idle eviction can race
// Registry.Close here, and whoever loses the table lookup must not close
// the channel a second time.
func (r *Registry) evict(a *userActor) {
	r.mu.Lock()
	if cur, ok := r.actors[a.userID]; ok && cur == a {
		delete(r.actors, a.userID)
	}
	r.mu.Unlock()
	a.stop()
}

func (r *Registry) do(ctx context.Context, userID uuid.UUID, fn func(*store) error) error {
	for {
		a := r.get(userID)
		if a == nil {
			return errors.New("actor registry is closed")
		}
		if err, ok := a.submit(ctx, fn); ok {
			return err
		}
		// Actor shut down between lookup and submit; route to a fresh one.
	}
}

// Close stops every actor and waits for their loops to release the sqlite
// handles.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	snapshot := make([]*userActor, 0, len(r.actors))
	for id, a := range r.actors {
		snapshot = append(snapshot, a)
		delete(r.actors, id)
	}
	r.mu.Unlock()

	for _, a := range snapshot {
		a.stop()
		<-a.stopped
	}
}

func (r *Registry) ListConversations(ctx context.Context, userID uuid.UUID) ([]types.Conversation, error) {
	var out []types.Conversation
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		out, ierr = s.listConversations()
		return ierr
	})
	return out, err
}

func (r *Registry) GetConversation(ctx context.Context, userID uuid.UUID, id string) (*types.Conversation, error) {
	var out *types.Conversation
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		out, ierr = s.getConversation(id)
		return ierr
	})
	return out, err
}

func (r *Registry) UpsertConversation(ctx context.Context, userID uuid.UUID, id string, title *string) (*types.Conversation, error) {
	var out *types.Conversation
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		out, ierr = s.upsertConversation(id, title)
		return ierr
	})
	return out, err
}

func (r *Registry) DeleteConversation(ctx context.Context, userID uuid.UUID, id string) error {
	return r.do(ctx, userID, func(s *store) error {
		return s.deleteConversation(id)
	})
}

func (r *Registry) ListMessages(ctx context.Context, userID uuid.UUID, conversationID string, limit int, cursor *int64) ([]types.Message, *int64, error) {
	var (
		out  []types.Message
		next *int64
	)
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		out, next, ierr = s.listMessages(conversationID, limit, cursor)
		return ierr
	})
	return out, next, err
}

func (r *Registry) AppendMessages(ctx context.Context, userID uuid.UUID, conversationID string, msgs []types.Message) (int64, error) {
	var count int64
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		count, ierr = s.appendMessages(conversationID, msgs)
		return ierr
	})
	return count, err
}

func (r *Registry) UsageDay(ctx context.Context, userID uuid.UUID, day int64) (*types.UsageDay, error) {
	var out *types.UsageDay
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		out, ierr = s.usageDay(day)
		return ierr
	})
	return out, err
}

func (r *Registry) AddUsage(ctx context.Context, userID uuid.UUID, day int64, modelID string, tu types.TokenUsage) error {
	return r.do(ctx, userID, func(s *store) error {
		return s.addUsage(day, modelID, tu)
	})
}

func (r *Registry) UsageRange(ctx context.Context, userID uuid.UUID, from, to int64) ([]types.UsageDay, error) {
	var out []types.UsageDay
	err := r.do(ctx, userID, func(s *store) error {
		var ierr error
		out, ierr = s.usageRange(from, to)
		return ierr
	})
	return out, err
}

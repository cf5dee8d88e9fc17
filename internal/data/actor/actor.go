package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

type job struct {
	fn   func(*store) error
	done chan error
}

// userActor owns one user's sqlite handle. A single goroutine drains the
// mailbox, which is what guarantees at-most-one mutation in flight per user
// and arrival-order processing. Requests submitted while migration is still
// running simply wait in the mailbox.
type userActor struct {
	userID   uuid.UUID
	path     string
	idleTTL  time.Duration
	log      *logger.Logger
	mailbox  chan job
	stopOnce sync.Once
	stopping chan struct{} // closed once the actor accepts no more work
	stopped  chan struct{} // closed when the loop has exited
	evict    func(*userActor)
}

func newUserActor(userID uuid.UUID, path string, idleTTL time.Duration, mailboxSize int, log *logger.Logger, evict func(*userActor)) *userActor {
	a := &userActor{
		userID:   userID,
		path:     path,
		idleTTL:  idleTTL,
		log:      log.With("component", "ConversationActor", "user_id", userID),
		mailbox:  make(chan job, mailboxSize),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
		evict:    evict,
	}
	go a.run()
	return a
}

// stop signals the loop to accept no more work. Idle eviction and registry
// shutdown can both reach this concurrently, so the close is guarded by a
// Once on the actor itself.
func (a *userActor) stop() {
	a.stopOnce.Do(func() { close(a.stopping) })
}

// submit queues fn on the mailbox. The second return is false when the actor
// shut down before accepting the job; the caller should fetch a fresh actor
// and retry. A caller whose ctx expires stops waiting, but an accepted job
// still executes — the reply channel is buffered so the loop never blocks.
func (a *userActor) submit(ctx context.Context, fn func(*store) error) (error, bool) {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case a.mailbox <- j:
	case <-a.stopping:
		return nil, false
	case <-ctx.Done():
		return ctx.Err(), true
	}
	select {
	case err := <-j.done:
		return err, true
	case <-ctx.Done():
		return ctx.Err(), true
	case <-a.stopped:
		// The loop is gone. drain answered everything it saw before
		// exiting, so an unanswered job was never executed and is safe
		// to retry on a fresh actor.
		select {
		case err := <-j.done:
			return err, true
		default:
			return nil, false
		}
	}
}

func (a *userActor) run() {
	defer close(a.stopped)

	st, err := openStore(a.path, a.log)
	if err == nil {
		if merr := st.migrate(); merr != nil {
			err = fmt.Errorf("migrate actor db: %w", merr)
		}
	}
	if err != nil {
		a.log.Error("actor activation failed", "error", err)
		a.evict(a)
		a.stop()
		a.failPending(err)
		if st != nil {
			_ = st.close()
		}
		return
	}

	idle := time.NewTimer(a.idleTTL)
	defer idle.Stop()

	for {
		select {
		case j := <-a.mailbox:
			j.done <- a.runJob(st, j.fn)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(a.idleTTL)
		case <-idle.C:
			a.log.Debug("actor idle, evicting")
			a.evict(a)
			a.drain(st)
			return
		case <-a.stopping:
			// Registry shutdown.
			a.drain(st)
			return
		}
	}
}

// drain handles jobs that raced into the mailbox before stopping closed,
// then releases the sqlite handle.
func (a *userActor) drain(st *store) {
	for {
		select {
		case j := <-a.mailbox:
			j.done <- a.runJob(st, j.fn)
		default:
			if err := st.close(); err != nil {
				a.log.Warn("actor db close failed", "error", err)
			}
			return
		}
	}
}

func (a *userActor) failPending(err error) {
	for {
		select {
		case j := <-a.mailbox:
			j.done <- err
		default:
			return
		}
	}
}

func (a *userActor) runJob(st *store, fn func(*store) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("actor operation panicked: %v", r)
			a.log.Error("actor operation panicked", "panic", r)
		}
	}()
	return fn(st)
}

package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHistory = 256
	DefaultTTL     = time.Hour
)

// Func is a unit of work. It must return once ctx is done.
type Func[T any] func(ctx context.Context) (T, error)

// Task is the handle of a submitted unit of work.
type Task[T any] struct {
	ID       string
	Deadline time.Time

	done   chan struct{}
	mu     sync.Mutex
	result T
	err    error
}

// Done is closed once the task finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finished or ctx is done. Giving up waiting does
// not stop the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. The last value reports whether
// the task finished.
func (t *Task[T]) Result() (T, error, bool) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

func (t *Task[T]) finish(result T, err error) {
	t.mu.Lock()
	t.result, t.err = result, err
	t.mu.Unlock()
	close(t.done)
}

type Config struct {
	// Limit applied to every task. Zero means no limit.
	Timeout time.Duration
	// How many tasks are remembered, and for how long.
	History int
	TTL     time.Duration
}

// Dispatcher hands tasks to a Runner and remembers them for a while so they
// can be looked up by id.
type Dispatcher[T any] struct {
	runner  Runner
	timeout time.Duration
	tasks   *expirable.LRU[string, *Task[T]]
}

func NewDispatcher[T any](runner Runner, conf Config) *Dispatcher[T] {
	if runner == nil {
		runner = Async{}
	}
	if conf.History <= 0 {
		conf.History = DefaultHistory
	}
	if conf.TTL <= 0 {
		conf.TTL = DefaultTTL
	}

	return &Dispatcher[T]{
		runner:  runner,
		timeout: conf.Timeout,
		tasks:   expirable.NewLRU[string, *Task[T]](conf.History, nil, conf.TTL),
	}
}

// Submit schedules fn and returns its handle immediately, unless the runner
// is Sync.
func (d *Dispatcher[T]) Submit(fn Func[T]) *Task[T] {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
	}

	t := &Task[T]{
		ID:   uuid.NewString(),
		done: make(chan struct{}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.Deadline = deadline
	}
	d.tasks.Add(t.ID, t)

	d.runner.Do(func() {
		defer cancel()

		var (
			result T
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", t.ID).Interface("panic", r).Msg("task panicked")
				err = fmt.Errorf("task %s panicked: %v", t.ID, r)
			}
			t.finish(result, err)
		}()

		result, err = fn(ctx)
	})
	return t
}

// Get returns a task that is still remembered.
func (d *Dispatcher[T]) Get(id string) (*Task[T], bool) {
	return d.tasks.Get(id)
}

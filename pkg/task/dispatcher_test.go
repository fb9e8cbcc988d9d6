package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

type submitTester struct {
	runner  Runner
	timeout time.Duration
	fn      Func[int]

	expectResult int
	expectErr    bool
	expectDead   bool
}

func (t *submitTester) runTest(test *testing.T, name string) {
	d := NewDispatcher[int](t.runner, Config{Timeout: t.timeout})
	task := d.Submit(t.fn)

	if task.ID == "" {
		test.Errorf("[%s] task has no id", name)
	}
	if got, ok := d.Get(task.ID); !ok || got != task {
		test.Errorf("[%s] task not registered", name)
	}
	if t.expectDead == task.Deadline.IsZero() {
		test.Errorf("[%s] expected deadline set %v, got %v", name, t.expectDead, task.Deadline)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := task.Wait(ctx)
	if (err != nil) != t.expectErr {
		test.Fatalf("[%s] expected error %v, got %v", name, t.expectErr, err)
	}
	if result != t.expectResult {
		test.Errorf("[%s] expected %d, got %d", name, t.expectResult, result)
	}

	select {
	case <-task.Done():
	default:
		test.Errorf("[%s] done channel not closed", name)
	}
	if _, _, ok := task.Result(); !ok {
		test.Errorf("[%s] expected finished result", name)
	}
}

var submitTests = map[string]*submitTester{
	"sync result": {
		runner:       Sync{},
		fn:           func(context.Context) (int, error) { return 42, nil },
		expectResult: 42,
	},
	"async result": {
		runner:       Async{},
		fn:           func(context.Context) (int, error) { return 7, nil },
		expectResult: 7,
	},
	"error": {
		runner:    Sync{},
		fn:        func(context.Context) (int, error) { return 0, errors.New("failed") },
		expectErr: true,
	},
	"timeout reaches the work": {
		runner:  Async{},
		timeout: 10 * time.Millisecond,
		fn: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return -1, ctx.Err()
		},
		expectResult: -1,
		expectErr:    true,
		expectDead:   true,
	},
	"panic": {
		runner:    Sync{},
		fn:        func(context.Context) (int, error) { panic("boom") },
		expectErr: true,
	},
}

func TestSubmit(t *testing.T) {
	for tname, cfg := range submitTests {
		cfg.runTest(t, tname)
	}
}

func TestResultPending(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher[string](Async{}, Config{})
	task := d.Submit(func(context.Context) (string, error) {
		<-release
		return "done", nil
	})

	if _, _, ok := task.Result(); ok {
		t.Fatal("task reported finished before release")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := task.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wait to give up, got %v", err)
	}

	close(release)
	got, err := task.Wait(context.Background())
	if err != nil || got != "done" {
		t.Errorf("expected done, got %q %v", got, err)
	}
}

func TestHistoryEviction(t *testing.T) {
	d := NewDispatcher[int](Sync{}, Config{History: 1})
	first := d.Submit(func(context.Context) (int, error) { return 1, nil })
	second := d.Submit(func(context.Context) (int, error) { return 2, nil })

	if _, ok := d.Get(first.ID); ok {
		t.Error("expected oldest task to be evicted")
	}
	if _, ok := d.Get(second.ID); !ok {
		t.Error("expected newest task to be remembered")
	}
	if _, ok := d.Get("unknown"); ok {
		t.Error("unexpected task for unknown id")
	}
}

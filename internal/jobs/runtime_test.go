package jobs

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"runetrack/internal/config"
	"runetrack/internal/domain"

	"github.com/rs/zerolog"
)

func testRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := &config.Config{
		Jobs: config.JobsConfig{
			Workers:      2,
			QueueSize:    16,
			MaxAttempts:  3,
			RetryBackoff: time.Millisecond,
		},
	}
	rt := NewRuntime(cfg, zerolog.Nop())
	t.Cleanup(rt.Stop)
	return rt
}

func TestEnqueueUnregisteredType(t *testing.T) {
	rt := testRuntime(t)
	if _, err := rt.Enqueue(TypeUpdatePlayer, Payload{}, Options{}); err == nil {
		t.Fatal("enqueue of an unregistered job type should fail")
	}
}

func TestExecutesHandler(t *testing.T) {
	rt := testRuntime(t)

	got := make(chan Payload, 1)
	rt.Register(TypeUpdatePlayer, 0, func(_ context.Context, p Payload) error {
		got <- p
		return nil
	})
	rt.Start()

	if _, err := rt.Enqueue(TypeUpdatePlayer, Payload{Username: "zezima"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case p := <-got:
		if p.Username != "zezima" {
			t.Fatalf("payload username = %q, want zezima", p.Username)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never executed")
	}
}

func TestDedupeKeyCoalesces(t *testing.T) {
	rt := testRuntime(t)

	release := make(chan struct{})
	var runs int32
	rt.Register(TypeReviewNameChange, 0, func(context.Context, Payload) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	})
	rt.Start()

	scheduled, err := rt.Enqueue(TypeReviewNameChange, Payload{NameChangeID: 1}, Options{DedupeKey: "1"})
	if err != nil || !scheduled {
		t.Fatalf("first enqueue: scheduled=%v err=%v", scheduled, err)
	}

	// Wait for the worker to pick the job up.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first job never started")
		}
		time.Sleep(time.Millisecond)
	}

	scheduled, err = rt.Enqueue(TypeReviewNameChange, Payload{NameChangeID: 1}, Options{DedupeKey: "1"})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if scheduled {
		t.Fatal("enqueue with an in-flight dedupe key should coalesce")
	}

	// A different key is independent.
	scheduled, err = rt.Enqueue(TypeReviewNameChange, Payload{NameChangeID: 2}, Options{DedupeKey: "2"})
	if err != nil || !scheduled {
		t.Fatalf("independent key: scheduled=%v err=%v", scheduled, err)
	}

	close(release)

	// Once the first execution drains, the key frees up again.
	deadline = time.Now().Add(2 * time.Second)
	for {
		scheduled, err = rt.Enqueue(TypeReviewNameChange, Payload{NameChangeID: 1}, Options{DedupeKey: "1"})
		if err != nil {
			t.Fatalf("re-enqueue after release: %v", err)
		}
		if scheduled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dedupe key never released after execution finished")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	rt := testRuntime(t)

	var attempts int32
	done := make(chan struct{})
	rt.Register(TypeUpdatePlayer, 0, func(context.Context, Payload) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return domain.ErrHiscoresUnavailable
		}
		close(done)
		return nil
	})
	rt.Start()

	if _, err := rt.Enqueue(TypeUpdatePlayer, Payload{Username: "zezima"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not retry to success, attempts = %d", atomic.LoadInt32(&attempts))
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestTerminalErrorsAreNotRetried(t *testing.T) {
	rt := testRuntime(t)

	var attempts int32
	executed := make(chan struct{}, 8)
	rt.Register(TypeUpdatePlayer, 0, func(context.Context, Payload) error {
		atomic.AddInt32(&attempts, 1)
		executed <- struct{}{}
		return errors.New("player not found")
	})
	rt.Start()

	if _, err := rt.Enqueue(TypeUpdatePlayer, Payload{Username: "ghost"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	<-executed
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("terminal failure executed %d times, want 1", got)
	}
}

func TestPerTypeRateLimiting(t *testing.T) {
	rt := testRuntime(t)

	times := make(chan time.Time, 2)
	rt.Register(TypeReviewNameChange, 100*time.Millisecond, func(context.Context, Payload) error {
		times <- time.Now()
		return nil
	})
	rt.Start()

	for i := int64(1); i <= 2; i++ {
		if _, err := rt.Enqueue(TypeReviewNameChange, Payload{NameChangeID: i}, Options{}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var first, second time.Time
	for i := 0; i < 2; i++ {
		select {
		case ts := <-times:
			if first.IsZero() {
				first = ts
			} else {
				second = ts
			}
		case <-time.After(5 * time.Second):
			t.Fatal("rate limited jobs never ran")
		}
	}

	if gap := second.Sub(first); gap < 80*time.Millisecond {
		t.Fatalf("executions %v apart, want at least ~100ms", gap)
	}
}

func TestDelayedEnqueue(t *testing.T) {
	rt := testRuntime(t)

	got := make(chan time.Time, 1)
	rt.Register(TypeRecheckFlagged, 0, func(context.Context, Payload) error {
		got <- time.Now()
		return nil
	})
	rt.Start()

	start := time.Now()
	if _, err := rt.Enqueue(TypeRecheckFlagged, Payload{}, Options{Delay: 100 * time.Millisecond}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case ts := <-got:
		if elapsed := ts.Sub(start); elapsed < 80*time.Millisecond {
			t.Fatalf("delayed job ran after %v, want at least ~100ms", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delayed job never executed")
	}
}

func TestDelayedEnqueueWatchersExit(t *testing.T) {
	rt := testRuntime(t)

	var handled atomic.Int64
	rt.Register(TypeRecheckFlagged, 0, func(context.Context, Payload) error {
		handled.Add(1)
		return nil
	})
	rt.Start()

	baseline := runtime.NumGoroutine()

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := rt.Enqueue(TypeRecheckFlagged, Payload{}, Options{Delay: time.Millisecond}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for handled.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d delayed jobs ran", handled.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Every fired timer's watcher goroutine should be gone well before
	// shutdown; allow slack for the pool and test machinery.
	deadline = time.Now().Add(2 * time.Second)
	for {
		if runtime.NumGoroutine() <= baseline+5 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d, baseline %d: delayed-enqueue watchers leaked", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

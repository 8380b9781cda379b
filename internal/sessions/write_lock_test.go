package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSessionLockMutualExclusion(t *testing.T) {
	mgr := NewSessionLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "sess-1", "turn-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, ok := mgr.TryAcquire("sess-1", "turn-2"); ok {
		t.Fatal("TryAcquire succeeded while lock held")
	}
	if !mgr.IsLocked("sess-1") {
		t.Error("IsLocked = false while held")
	}

	release()

	release2, ok := mgr.TryAcquire("sess-1", "turn-2")
	if !ok {
		t.Fatal("TryAcquire failed after release")
	}
	release2()
}

func TestSessionLockIndependentSessions(t *testing.T) {
	mgr := NewSessionLockManager(time.Second)

	release1, ok := mgr.TryAcquire("sess-a", "turn-1")
	if !ok {
		t.Fatal("TryAcquire sess-a failed")
	}
	defer release1()

	// A held lock on one session must not block another.
	release2, ok := mgr.TryAcquire("sess-b", "turn-2")
	if !ok {
		t.Fatal("TryAcquire sess-b failed while sess-a held")
	}
	release2()
}

func TestSessionLockAcquireTimeout(t *testing.T) {
	mgr := NewSessionLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "sess-1", "turn-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = mgr.Acquire(ctx, "sess-1", "turn-2", 30*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire = %v, want ErrLockTimeout", err)
	}

	// A timed-out waiter must leave the lock intact for later turns.
	release()
	release2, err := mgr.Acquire(ctx, "sess-1", "turn-3", time.Second)
	if err != nil {
		t.Fatalf("Acquire after timed-out wait: %v", err)
	}
	release2()
}

func TestSessionLockAcquireContextCanceled(t *testing.T) {
	mgr := NewSessionLockManager(time.Second)

	release, err := mgr.Acquire(context.Background(), "sess-1", "turn-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mgr.Acquire(ctx, "sess-1", "turn-2", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire = %v, want context.Canceled", err)
	}
}

func TestSessionLockSerializesWaiters(t *testing.T) {
	mgr := NewSessionLockManager(time.Second)
	ctx := context.Background()

	const workers = 8
	var mu sync.Mutex
	var inCritical int
	var maxInCritical int

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := mgr.Acquire(ctx, "sess-1", "worker", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInCritical)
	}
}

package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalCommitLock_AcquireRelease(t *testing.T) {
	lock := NewLocalCommitLock(time.Second)

	if lock.Held() {
		t.Fatal("new lock should not be held")
	}

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !lock.Held() {
		t.Error("lock should be held after Acquire")
	}

	release()
	release() // second call is a no-op

	if lock.Held() {
		t.Error("lock should be free after release")
	}
	if _, ok := lock.TryAcquire(); !ok {
		t.Error("TryAcquire should succeed on a free lock")
	}
}

func TestLocalCommitLock_BusyAfterWait(t *testing.T) {
	lock := NewLocalCommitLock(50 * time.Millisecond)

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = lock.Acquire(context.Background())
	if !errors.Is(err, ErrCommitBusy) {
		t.Errorf("expected ErrCommitBusy, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("gave up too fast: %v", elapsed)
	}

	if _, ok := lock.TryAcquire(); ok {
		t.Error("TryAcquire should fail while held")
	}
}

func TestLocalCommitLock_ContextCancelled(t *testing.T) {
	lock := NewLocalCommitLock(time.Second)
	release, _ := lock.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := lock.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalCommitLock_Exclusive(t *testing.T) {
	lock := NewLocalCommitLock(5 * time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	inside, maxInside := 0, 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("observed %d concurrent holders, want 1", maxInside)
	}
}

func TestLocalCommitLock_WaitForDrain(t *testing.T) {
	lock := NewLocalCommitLock(time.Second)
	release, _ := lock.Acquire(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := lock.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}
}

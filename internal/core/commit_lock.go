package core

// commit_lock.go serializes registry writers.
//
// Every commit and manual correction computes a new registry value from the
// current one and swaps it in. Two writers racing would lose one of the
// updates, so writers take a slot from a CommitLock first. The local lock is
// a single-slot semaphore; replicas sharing one store use the Redis lock in
// internal/store instead.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCommitBusy is returned when the commit lock cannot be acquired within
// the wait timeout. Clients should retry after a short delay.
var ErrCommitBusy = errors.New("commit busy: another change is being applied")

// DefaultCommitWait is how long a writer waits for the lock before giving up.
const DefaultCommitWait = 30 * time.Second

// CommitLock grants exclusive write access to the registry.
// The returned release func must be called exactly once.
type CommitLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalCommitLock is an in-process CommitLock.
type LocalCommitLock struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu      sync.RWMutex
	holders int
	waiting int
}

// NewLocalCommitLock creates a lock that waits at most maxWait for the slot.
func NewLocalCommitLock(maxWait time.Duration) *LocalCommitLock {
	if maxWait <= 0 {
		maxWait = DefaultCommitWait
	}
	return &LocalCommitLock{
		semaphore: make(chan struct{}, 1),
		maxWait:   maxWait,
	}
}

// Acquire waits for the slot. It returns ErrCommitBusy when maxWait expires
// and the context error when ctx is done first.
func (l *LocalCommitLock) Acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.holders++
		l.mu.Unlock()
		return l.releaseOnce(), nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrCommitBusy
	}
}

// TryAcquire takes the slot without blocking.
func (l *LocalCommitLock) TryAcquire() (func(), bool) {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.holders++
		l.mu.Unlock()
		return l.releaseOnce(), true
	default:
		return nil, false
	}
}

func (l *LocalCommitLock) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holders--
			l.mu.Unlock()
			<-l.semaphore
		})
	}
}

// Held reports whether a writer currently holds the lock.
func (l *LocalCommitLock) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holders > 0
}

// WaitForDrain blocks until no writer holds the lock or ctx is done.
// Used on shutdown so an in-flight commit finishes before the store closes.
func (l *LocalCommitLock) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !l.Held() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CommitLockStatus is a point-in-time view of the lock for monitoring.
type CommitLockStatus struct {
	Held    bool `json:"held"`
	Waiting int  `json:"waiting"`
}

// Status returns the current lock state.
func (l *LocalCommitLock) Status() CommitLockStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return CommitLockStatus{Held: l.holders > 0, Waiting: l.waiting}
}

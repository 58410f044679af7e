package chat

import (
	"context"
	"sync"
)

// threadLocks serializes conversations on the same thread. The Assistants API
// rejects new messages while a run on the thread is active, so a second
// request for a thread waits for the first one to finish. Locks are dropped
// once nobody holds or waits on them.
type threadLocks struct {
	edit    sync.Mutex
	waiters map[string]int
	slots   map[string]chan struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{
		waiters: make(map[string]int),
		slots:   make(map[string]chan struct{}),
	}
}

func (l *threadLocks) Lock(ctx context.Context, threadID string) error {
	l.edit.Lock()
	slot := l.slots[threadID]
	if slot == nil {
		slot = make(chan struct{}, 1)
		l.slots[threadID] = slot
	}
	l.waiters[threadID]++
	l.edit.Unlock()

	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(threadID)
		return ctx.Err()
	}
}

func (l *threadLocks) Unlock(threadID string) {
	l.edit.Lock()
	slot := l.slots[threadID]
	l.edit.Unlock()

	if slot == nil {
		return
	}
	<-slot
	l.release(threadID)
}

func (l *threadLocks) release(threadID string) {
	l.edit.Lock()
	defer l.edit.Unlock()

	l.waiters[threadID]--
	if l.waiters[threadID] <= 0 {
		delete(l.slots, threadID)
		delete(l.waiters, threadID)
	}
}

func (l *threadLocks) Len() int {
	l.edit.Lock()
	defer l.edit.Unlock()
	return len(l.slots)
}

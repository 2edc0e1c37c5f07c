package negotiation

import (
	"context"
	"fmt"
	"sync"
)

// sessionLocks serializes turns per session. A slot is dropped when its
// last holder or waiter leaves.
type sessionLocks struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

type turnSlot struct {
	sem   chan struct{}
	users int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{slots: make(map[string]*turnSlot)}
}

// acquire blocks until sessionID is free or ctx is done.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (release func(), err error) {
	l.mu.Lock()
	slot, ok := l.slots[sessionID]
	if !ok {
		slot = &turnSlot{sem: make(chan struct{}, 1)}
		l.slots[sessionID] = slot
	}
	slot.users++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return func() {
			<-slot.sem
			l.leave(sessionID, slot)
		}, nil
	case <-ctx.Done():
		l.leave(sessionID, slot)
		return nil, fmt.Errorf("lock session %s: %w", sessionID, ctx.Err())
	}
}

func (l *sessionLocks) leave(sessionID string, slot *turnSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.users--
	if slot.users == 0 {
		delete(l.slots, sessionID)
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

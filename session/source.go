package session

import (
	"sync"

	"github.com/strideworks/trackd/types/fix"
)

// PushSource is a FixSource fed by calling Push: the daemon's HTTP
// populate path and the replay command both use it. Push runs on the
// caller's goroutine (HTTP handlers, concurrently) while Watch/Clear
// run on the session's, so the callback slot is guarded.
type PushSource struct {
	mu     sync.Mutex
	cb     func(*fix.Fix)
	handle WatchHandle
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

// Watch registers the callback. The first handle issued is zero:
// falsy, but valid. Subscription liveness is the callback, not the
// handle value.
func (p *PushSource) Watch(cb func(f *fix.Fix)) (WatchHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
	h := p.handle
	p.handle++
	return h, nil
}

func (p *PushSource) Clear(h WatchHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = nil
	return nil
}

// Push delivers a fix to the watcher, if any. Fixes pushed while
// unwatched (paused, stopped) fall on the floor, as they would with a
// platform watch torn down. The callback is invoked outside the lock;
// it posts to the session mailbox and may block.
func (p *PushSource) Push(f *fix.Fix) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

package pipeline

import (
	"sync"
	"time"
)

// Coalescer debounces FileEvents per path: if the same
// path is seen again within window, the earlier event is dropped and the
// later timestamp wins. A single pending time.AfterFunc coalescing a
// burst of writes, generalized from one global debounce timer to one
// debounce timer per path key.
type Coalescer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	window time.Duration
	emit   func(FileEvent)
}

// NewCoalescer creates a Coalescer that calls emit once per path after
// window has elapsed with no further event for that path.
func NewCoalescer(window time.Duration, emit func(FileEvent)) *Coalescer {
	return &Coalescer{
		timers: make(map[string]*time.Timer),
		window: window,
		emit:   emit,
	}
}

// OnEvent records ev, resetting the debounce timer for ev.Path. Only the
// most recently seen event for a path is ever emitted.
func (c *Coalescer) OnEvent(ev FileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[ev.Path]; ok {
		t.Stop()
	}
	c.timers[ev.Path] = time.AfterFunc(c.window, func() {
		c.mu.Lock()
		delete(c.timers, ev.Path)
		c.mu.Unlock()
		c.emit(ev)
	})
}

// Pending reports how many paths currently have a debounce timer in
// flight.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop cancels all pending timers without emitting. Used on shutdown.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, t := range c.timers {
		t.Stop()
		delete(c.timers, path)
	}
}

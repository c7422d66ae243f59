package stream

import (
	"strings"
	"sync"
	"time"
)

const (
	// flushInterval is how long output may sit in the coalescing buffer
	// before it is delivered.
	flushInterval = 50 * time.Millisecond

	// flushThreshold is the byte size past which a buffer is delivered
	// immediately instead of waiting for the timer.
	flushThreshold = 2048
)

// coalescer batches small output fragments per session so the consumer sees
// a few larger data events instead of one per read. A session's buffer is
// flushed when the timer fires or the threshold is exceeded, whichever comes
// first, and unconditionally on process exit.
type coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	limit    int
	emit     func(sessionID, text string)
	pending  map[string]*strings.Builder
	timers   map[string]*time.Timer
}

func newCoalescer(emit func(sessionID, text string)) *coalescer {
	return &coalescer{
		interval: flushInterval,
		limit:    flushThreshold,
		emit:     emit,
		pending:  make(map[string]*strings.Builder),
		timers:   make(map[string]*time.Timer),
	}
}

// append adds text to a session's buffer, flushing immediately once the
// threshold is crossed and otherwise arming the flush timer.
func (c *coalescer) append(sessionID, text string) {
	if text == "" {
		return
	}

	c.mu.Lock()
	buf, ok := c.pending[sessionID]
	if !ok {
		buf = &strings.Builder{}
		c.pending[sessionID] = buf
	}
	buf.WriteString(text)

	if buf.Len() >= c.limit {
		out := c.takeLocked(sessionID)
		c.mu.Unlock()
		c.emit(sessionID, out)
		return
	}

	if _, armed := c.timers[sessionID]; !armed {
		c.timers[sessionID] = time.AfterFunc(c.interval, func() {
			c.flush(sessionID)
		})
	}
	c.mu.Unlock()
}

// flush delivers whatever is pending for a session. Safe to call when the
// buffer is empty.
func (c *coalescer) flush(sessionID string) {
	c.mu.Lock()
	out := c.takeLocked(sessionID)
	c.mu.Unlock()

	if out != "" {
		c.emit(sessionID, out)
	}
}

// takeLocked drains a session's buffer and disarms its timer.
// Caller must hold mu.
func (c *coalescer) takeLocked(sessionID string) string {
	if t, ok := c.timers[sessionID]; ok {
		t.Stop()
		delete(c.timers, sessionID)
	}
	buf, ok := c.pending[sessionID]
	if !ok {
		return ""
	}
	delete(c.pending, sessionID)
	return buf.String()
}

// Package notify provides the status-change observer hook consumed by
// the supervisory state machine.
package notify

import (
	"log/slog"
	"sync"
)

// Callback is invoked whenever aggregated device status changes.
// It runs on the poll/telemetry goroutine of the owning model, so it
// should return quickly.
type Callback func()

// Notifier holds a single status callback. The zero value is usable
// and notifies nobody.
//
// Models call Notify only when their published status actually
// changed, so the supervisor can treat every invocation as meaningful.
type Notifier struct {
	mu   sync.RWMutex
	fn   Callback
	slog *slog.Logger
}

// New creates a Notifier that logs callback panics to logger.
// A nil logger uses slog.Default.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{slog: logger}
}

// SetCallback installs the callback, replacing any previous one.
// Pass nil to remove it.
func (n *Notifier) SetCallback(fn Callback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fn = fn
}

// Notify invokes the callback, if any. A panicking callback is
// recovered and logged; it must not take down the owning poll loop.
func (n *Notifier) Notify() {
	n.mu.RLock()
	fn := n.fn
	logger := n.slog
	n.mu.RUnlock()

	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("status callback panicked", "panic", r)
		}
	}()
	fn()
}

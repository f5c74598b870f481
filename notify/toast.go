// Package notify holds the transient toast shown after user actions.
package notify

import (
	"sync"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DefaultDuration is how long a toast stays visible.
const DefaultDuration = 3 * time.Second

// Toast is the current notification. The zero value is hidden.
type Toast struct {
	Visible  bool
	Message  string
	Severity Severity
	ShownAt  time.Time
}

// AfterFunc schedules fn after d and returns a stop function.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

// Notifier owns a single toast. A newer toast replaces the current one and
// restarts the timer.
type Notifier struct {
	mu         sync.Mutex
	toast      Toast
	duration   time.Duration
	generation uint64
	stop       func() bool
	afterFunc  AfterFunc
	now        func() time.Time
	listeners  []func(Toast)
}

type Option func(*Notifier)

// WithAfterFunc replaces time.AfterFunc, mostly for tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(n *Notifier) { n.afterFunc = fn }
}

func WithNow(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

func New(duration time.Duration, opts ...Option) *Notifier {
	if duration <= 0 {
		duration = DefaultDuration
	}
	n := &Notifier{
		duration: duration,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers fn for every toast change. fn runs outside the lock.
func (n *Notifier) Subscribe(fn func(Toast)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *Notifier) Show(severity Severity, message string) {
	n.mu.Lock()
	if n.stop != nil {
		n.stop()
	}
	n.generation++
	gen := n.generation
	n.toast = Toast{Visible: true, Message: message, Severity: severity, ShownAt: n.now()}
	n.stop = n.afterFunc(n.duration, func() { n.expire(gen) })
	toast, listeners := n.toast, n.listeners
	n.mu.Unlock()

	notifyAll(listeners, toast)
}

func (n *Notifier) Info(message string)    { n.Show(SeverityInfo, message) }
func (n *Notifier) Success(message string) { n.Show(SeveritySuccess, message) }
func (n *Notifier) Warning(message string) { n.Show(SeverityWarning, message) }
func (n *Notifier) Error(message string)   { n.Show(SeverityError, message) }

// Dismiss hides the current toast.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	if n.stop != nil {
		n.stop()
		n.stop = nil
	}
	n.generation++
	changed := n.toast.Visible
	n.toast = Toast{}
	listeners := n.listeners
	n.mu.Unlock()

	if changed {
		notifyAll(listeners, Toast{})
	}
}

func (n *Notifier) Current() Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.toast
}

// expire hides the toast only if no newer toast replaced it.
func (n *Notifier) expire(gen uint64) {
	n.mu.Lock()
	if gen != n.generation || !n.toast.Visible {
		n.mu.Unlock()
		return
	}
	n.toast = Toast{}
	n.stop = nil
	listeners := n.listeners
	n.mu.Unlock()

	notifyAll(listeners, Toast{})
}

func notifyAll(listeners []func(Toast), toast Toast) {
	for _, fn := range listeners {
		fn(toast)
	}
}

package examsession

import (
	"sync"
	"time"
)

const (
	DefaultTickInterval     = time.Second
	DefaultWarningThreshold = 5 * time.Minute
)

// Tick is emitted once per interval while the countdown runs.
type Tick struct {
	Remaining time.Duration
	Warning   bool
}

// RemainingSeconds rounds the remaining time up to whole seconds.
func (t Tick) RemainingSeconds() int {
	return ceilSeconds(t.Remaining)
}

// Countdown is a one-shot timer measured against a fixed deadline.
//
// Remaining time is always recomputed as deadline minus now, so a delayed or
// suspended ticker can never stretch the exam beyond its deadline. The expiry
// callback runs at most once, and never after Cancel.
type Countdown struct {
	clock    Clock
	interval time.Duration
	warnAt   time.Duration
	onTick   func(Tick)

	mu       sync.Mutex
	deadline time.Time
	started  bool
	stopped  bool
	expired  bool
	onExpire func()
	stop     chan struct{}
	done     chan struct{}
}

// CountdownOption configures a Countdown.
type CountdownOption func(*Countdown)

// WithCountdownClock overrides the wall clock.
func WithCountdownClock(c Clock) CountdownOption {
	return func(cd *Countdown) { cd.clock = c }
}

// WithTickInterval sets how often ticks are emitted.
func WithTickInterval(d time.Duration) CountdownOption {
	return func(cd *Countdown) {
		if d > 0 {
			cd.interval = d
		}
	}
}

// WithWarningThreshold sets the remaining time at or below which ticks carry Warning.
func WithWarningThreshold(d time.Duration) CountdownOption {
	return func(cd *Countdown) { cd.warnAt = d }
}

// WithTickHandler registers a callback for every tick, including the final zero tick.
func WithTickHandler(fn func(Tick)) CountdownOption {
	return func(cd *Countdown) { cd.onTick = fn }
}

// NewCountdown creates an idle countdown.
func NewCountdown(opts ...CountdownOption) *Countdown {
	c := &Countdown{
		clock:    SystemClock,
		interval: DefaultTickInterval,
		warnAt:   DefaultWarningThreshold,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a countdown of d from now.
func (c *Countdown) Start(d time.Duration, onExpire func()) error {
	return c.StartUntil(c.clock.Now().Add(d), onExpire)
}

// StartUntil begins a countdown to an absolute deadline.
func (c *Countdown) StartUntil(deadline time.Time, onExpire func()) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrCountdownStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrCountdownStarted
	}
	c.started = true
	c.deadline = deadline
	c.onExpire = onExpire
	ticker := c.clock.NewTicker(c.interval)
	c.mu.Unlock()

	go c.run(ticker)
	return nil
}

// Cancel stops ticking and suppresses a pending expiry. Safe to call from the
// expiry callback itself and safe to call repeatedly.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
	if !c.started {
		close(c.done)
	}
}

// Poll re-evaluates the deadline immediately, e.g. after the host wakes from
// suspension. It reports whether the countdown has finished.
func (c *Countdown) Poll() bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return false
	}
	return c.evaluate()
}

// Remaining returns the time left, never negative. Zero before Start.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.expired {
		return 0
	}
	r := c.deadline.Sub(c.clock.Now())
	if r < 0 {
		return 0
	}
	return r
}

// RemainingSeconds rounds Remaining up to whole seconds for display.
func (c *Countdown) RemainingSeconds() int {
	return ceilSeconds(c.Remaining())
}

// Warning reports whether the remaining time is within the warning threshold.
func (c *Countdown) Warning() bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	return started && c.Remaining() <= c.warnAt
}

// Deadline returns the absolute deadline, zero before Start.
func (c *Countdown) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Expired reports whether the expiry has fired.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Done is closed once the countdown goroutine exits (expiry or cancel).
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) run(t Ticker) {
	defer close(c.done)
	defer t.Stop()

	if c.evaluate() {
		return
	}
	// evaluate may also run from Poll; stop is closed by whichever call finishes the countdown.
	for {
		select {
		case <-c.stop:
			return
		case <-t.C():
			if c.evaluate() {
				return
			}
		}
	}
}

// evaluate emits a tick or the expiry and reports whether the countdown is finished.
func (c *Countdown) evaluate() bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return true
	}

	remaining := c.deadline.Sub(c.clock.Now())
	if remaining > 0 {
		tick := Tick{Remaining: remaining, Warning: remaining <= c.warnAt}
		c.mu.Unlock()
		if c.onTick != nil {
			c.onTick(tick)
		}
		return false
	}

	c.stopped = true
	c.expired = true
	close(c.stop)
	onExpire := c.onExpire
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(Tick{Remaining: 0, Warning: true})
	}
	if onExpire != nil {
		onExpire()
	}
	return true
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

package pool

import (
	"sync"
	"time"
)

// HasWakeup is implemented by anything that can schedule a future wakeup.
type HasWakeup interface {
	NextWakeup() (time.Time, bool)
}

// WakeupRunner is a single timer goroutine over a live collection of wakeup
// producers. It sleeps until the earliest outstanding wakeup, then invokes
// the callback serially for every producer whose deadline has elapsed.
// Deadlines in the past fire immediately. Kick recomputes the earliest
// wakeup and is safe to call concurrently; it never blocks.
type WakeupRunner struct {
	name     string
	snapshot func() []HasWakeup
	callback func(HasWakeup)

	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWakeupRunner(name string, snapshot func() []HasWakeup, callback func(HasWakeup)) *WakeupRunner {
	return &WakeupRunner{
		name:     name,
		snapshot: snapshot,
		callback: callback,
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the timer goroutine.
func (r *WakeupRunner) Start() {
	r.wg.Add(1)
	go r.run()
}

// Kick wakes the runner to recompute the earliest deadline, e.g. after a
// timeout-bearing task starts or completes.
func (r *WakeupRunner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Shutdown wakes the runner and waits for it to return. Idempotent.
func (r *WakeupRunner) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *WakeupRunner) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		next, have, fired := r.fireElapsed()
		if fired {
			// Deadlines may have shifted during callbacks; recompute.
			continue
		}

		if !have {
			select {
			case <-r.kick:
			case <-r.stopCh:
				return
			}
			continue
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-r.kick:
			timer.Stop()
		case <-r.stopCh:
			timer.Stop()
			return
		}
	}
}

// fireElapsed invokes the callback for every producer whose wakeup has
// passed and returns the earliest remaining deadline.
func (r *WakeupRunner) fireElapsed() (next time.Time, have bool, fired bool) {
	now := time.Now()
	for _, item := range r.snapshot() {
		deadline, ok := item.NextWakeup()
		if !ok {
			continue
		}
		if !deadline.After(now) {
			r.callback(item)
			fired = true
			continue
		}
		if !have || deadline.Before(next) {
			next = deadline
			have = true
		}
	}
	return next, have, fired
}

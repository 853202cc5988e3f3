// Package pooltest provides an in-process stand-in for the subprocess
// runtime. It speaks the same protocol as the real worker executor (ready,
// done, shutdown frames; stop sentinel; cancel signal) without forking, so
// pool behavior can be tested hermetically.
package pooltest

import (
	"os"
	"sync"
	"time"

	"github.com/art-tapin/dispatcher-fork/internal/process"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// Runtime implements process.Runtime over fake processes.
type Runtime struct {
	results chan process.Result

	mu      sync.Mutex
	procs   map[int]*Process
	taskLog []string

	// FailSpawn, when set, makes Start fail for worker ids it returns true
	// for.
	FailSpawn func(workerID int) bool
}

func NewRuntime() *Runtime {
	return &Runtime{
		results: make(chan process.Result, 256),
		procs:   make(map[int]*Process),
	}
}

func (r *Runtime) NewProcess(workerID int) process.Process {
	p := &Process{
		id:      workerID,
		runtime: r,
		inbound: make(chan any, 16),
		cancel:  make(chan struct{}, 1),
		kill:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.mu.Lock()
	r.procs[workerID] = p
	r.mu.Unlock()
	return p
}

func (r *Runtime) Results() <-chan process.Result {
	return r.results
}

func (r *Runtime) PostStop() {
	select {
	case r.results <- process.Result{Event: process.EventStop}:
	default:
	}
}

// Proc returns the fake process for a worker id, for direct manipulation.
func (r *Runtime) Proc(workerID int) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[workerID]
}

// TaskLog returns the uuids of executed tasks in start order.
func (r *Runtime) TaskLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.taskLog))
	copy(out, r.taskLog)
	return out
}

func (r *Runtime) logTask(uuid string) {
	r.mu.Lock()
	r.taskLog = append(r.taskLog, uuid)
	r.mu.Unlock()
}

// Process simulates one worker subprocess. Task messages sleep for
// Kwargs["duration"] seconds (default 10ms), then emit a done result.
// The cancel signal interrupts the sleep and yields a "<cancel>" result;
// Kill terminates silently, like a real SIGKILL.
type Process struct {
	id      int
	runtime *Runtime
	inbound chan any
	cancel  chan struct{}
	kill    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	started  bool
	alive    bool
	killOnce sync.Once
	doneOnce sync.Once
}

func (p *Process) Start() error {
	if p.runtime.FailSpawn != nil && p.runtime.FailSpawn(p.id) {
		return os.ErrPermission
	}
	p.mu.Lock()
	p.started = true
	p.alive = true
	p.mu.Unlock()
	go p.run()
	return nil
}

func (p *Process) run() {
	defer p.terminate()

	p.emit(process.Result{Worker: p.id, Event: process.EventReady})

	for {
		select {
		case <-p.kill:
			return
		case raw := <-p.inbound:
			switch msg := raw.(type) {
			case string:
				if msg == process.StopSentinel {
					p.emit(process.Result{Worker: p.id, Event: process.EventShutdown})
					return
				}
			case *task.Message:
				if !p.execute(msg) {
					return // killed mid-task
				}
			}
		}
	}
}

// execute sleeps for the message duration, honoring cancel and kill.
// Returns false when killed.
func (p *Process) execute(msg *task.Message) bool {
	p.runtime.logTask(msg.LogUUID())

	duration := 10 * time.Millisecond
	if d, ok := msg.Kwargs["duration"].(float64); ok {
		duration = time.Duration(d * float64(time.Second))
	}

	// Drain any cancel delivered before this task
	select {
	case <-p.cancel:
		p.emit(process.Result{Worker: p.id, Event: process.EventDone, Result: process.CancelResult})
		return true
	default:
	}

	select {
	case <-time.After(duration):
		p.emit(process.Result{Worker: p.id, Event: process.EventDone, Result: "ok"})
		return true
	case <-p.cancel:
		p.emit(process.Result{Worker: p.id, Event: process.EventDone, Result: process.CancelResult})
		return true
	case <-p.kill:
		return false
	}
}

func (p *Process) emit(res process.Result) {
	select {
	case p.runtime.results <- res:
	case <-time.After(time.Second):
	}
}

func (p *Process) terminate() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return 10000 + p.id
}

func (p *Process) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Process) Send(msg any) {
	select {
	case p.inbound <- msg:
	default:
	}
}

func (p *Process) Signal(sig os.Signal) error {
	if sig == process.CancelSignal {
		select {
		case p.cancel <- struct{}{}:
		default:
		}
	}
	return nil
}

func (p *Process) Kill() {
	p.killOnce.Do(func() { close(p.kill) })
	p.terminate()
}

func (p *Process) Join(timeout time.Duration) bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return true
	}
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive {
		return -1
	}
	return 0
}

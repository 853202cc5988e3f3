package pool

import (
	"context"
	"sync"
	"time"

	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/metrics"
	"github.com/art-tapin/dispatcher-fork/internal/process"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

const (
	exitSignalWait = 3 * time.Second
	joinWait       = 3 * time.Second
	killAttempts   = 3
	killRetryDelay = time.Second
)

// Worker is the in-process record for one subprocess. Its id is assigned at
// creation and never reused. Timestamps come from time.Now, whose readings
// carry the monotonic clock, so the deltas fed to timeout and scale-down
// decisions are immune to wall-clock jumps.
type Worker struct {
	ID      int
	Process process.Process

	mu             sync.Mutex
	status         Status
	currentTask    *task.Message
	createdAt      time.Time
	startedAt      time.Time // zero while idle
	stoppingAt     time.Time
	retiredAt      time.Time
	isActiveCancel bool
	finishedCount  int

	exitSignaled *Latch
}

// WorkerInfo is the introspection payload for one worker.
type WorkerInfo struct {
	WorkerID        int     `json:"worker_id"`
	Pid             int     `json:"pid"`
	Status          string  `json:"status"`
	FinishedCount   int     `json:"finished_count"`
	CurrentTask     string  `json:"current_task,omitempty"`
	CurrentTaskUUID string  `json:"current_task_uuid,omitempty"`
	ActiveCancel    bool    `json:"active_cancel"`
	Age             float64 `json:"age"`
}

func NewWorker(id int, proc process.Process) *Worker {
	return &Worker{
		ID:           id,
		Process:      proc,
		status:       StatusInitialized,
		createdAt:    time.Now(),
		exitSignaled: NewLatch(),
	}
}

// transition applies the status table, logging refused moves. Callers hold w.mu.
func (w *Worker) transition(target Status) bool {
	if w.status == target {
		return true
	}
	if !w.status.CanTransitionTo(target) {
		logger.Error().Int("worker_id", w.ID).
			Str("from", w.status.String()).Str("to", target.String()).
			Msg("refusing invalid worker status transition")
		return false
	}
	w.status = target
	return true
}

// Start forks the subprocess. Spawn failure is non-fatal to the pool: the
// worker lands in error and is reaped on the normal schedule.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusInitialized {
		logger.Error().Int("worker_id", w.ID).Str("status", w.status.String()).
			Msg("worker is not initialized, can not start")
		return
	}
	w.transition(StatusSpawned)
	if err := w.Process.Start(); err != nil {
		logger.Error().Int("worker_id", w.ID).Err(err).
			Msg("subprocess spawn failed, marking worker as error")
		metrics.WorkerSpawnFailures.Inc()
		w.transition(StatusError)
		w.retiredAt = time.Now()
		return
	}
	logger.Debug().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).Msg("subprocess spawned")
	// Not ready until the worker sends its ready callback
	w.transition(StatusStarting)
}

// StartTask marks the worker busy and hands the message to the subprocess.
// Status does not change; busy is the presence of a current task.
func (w *Worker) StartTask(msg *task.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTask = msg
	w.startedAt = time.Now()
	w.Process.Send(msg)
}

// SignalStop asks the worker to exit after its current task, canceling that
// task if one is running.
func (w *Worker) SignalStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Process.Send(process.StopSentinel)
	if w.currentTask != nil {
		logger.Warn().Int("worker_id", w.ID).Str("uuid", w.currentTask.LogUUID()).
			Msg("worker is running a task, canceling for stop")
		w.cancelLocked()
	}
	w.transition(StatusStopping)
	w.stoppingAt = time.Now()
}

// Cancel delivers the out-of-band cancellation signal. The worker-side
// executor answers with a done result of "<cancel>"; a worker with no pid
// yet has nothing to cancel.
func (w *Worker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked()
}

func (w *Worker) cancelLocked() {
	w.isActiveCancel = true
	pid := w.Process.Pid()
	if pid == 0 {
		return
	}
	if err := w.Process.Signal(process.CancelSignal); err != nil {
		logger.Debug().Int("worker_id", w.ID).Int("pid", pid).Err(err).Msg("cancel signal failed")
	}
}

// Stop brings the subprocess down and does not return until it is gone or
// declared unrecoverable. Idempotent; safe to call on exited workers.
func (w *Worker) Stop() {
	w.mu.Lock()
	status := w.status
	w.mu.Unlock()

	if status.Terminal() {
		return // already stopped
	}
	if status != StatusStopping && status != StatusExited {
		w.SignalStop()
	}

	if w.Process.Pid() == 0 {
		// Never spawned; there is no process to wait for or kill.
		w.markRetired()
		return
	}

	w.mu.Lock()
	status = w.status
	w.mu.Unlock()
	if status != StatusExited {
		ctx, cancel := waitContext(exitSignalWait)
		err := w.exitSignaled.Wait(ctx)
		cancel()
		if err != nil {
			logger.Error().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).
				Msg("worker failed to send exit message in time")
			w.mu.Lock()
			w.transition(StatusError)
			w.mu.Unlock()
		}
	}
	w.exitSignaled.Clear()

	logger.Debug().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).Msg("joining worker subprocess")
	w.Process.Join(joinWait)

	for attempt := 0; attempt < killAttempts; attempt++ {
		if !w.Process.IsAlive() {
			logger.Debug().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).
				Int("exit_code", w.Process.ExitCode()).Msg("worker subprocess exited")
			w.markRetired()
			return
		}
		logger.Error().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).
			Int("attempt", attempt).Msg("worker still alive, killing")
		time.Sleep(killRetryDelay)
		w.Process.Kill()
	}

	if !w.Process.IsAlive() {
		w.markRetired()
		return
	}

	logger.Error().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).
		Msg("worker subprocess survived kill attempts, leaking it")
	w.mu.Lock()
	w.transition(StatusError)
	w.retiredAt = time.Now()
	w.mu.Unlock()
}

func (w *Worker) markRetired() {
	w.mu.Lock()
	defer w.mu.Unlock()
	// A worker that already faulted stays in error; only record when the
	// process was observed gone so reaping can proceed.
	if w.status != StatusError {
		w.transition(StatusRetired)
	}
	if w.retiredAt.IsZero() {
		w.retiredAt = time.Now()
	}
}

func waitContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// MarkFinishedTask clears the busy state after a done result.
func (w *Worker) MarkFinishedTask() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.isActiveCancel = false
	w.currentTask = nil
	w.startedAt = time.Time{}
	w.finishedCount++
}

// NextWakeup feeds the timeout runner: the deadline of the current task, if
// it has one and no cancellation is already in flight.
func (w *Worker) NextWakeup() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isActiveCancel || w.currentTask == nil || w.startedAt.IsZero() || !w.currentTask.HasTimeout() {
		return time.Time{}, false
	}
	return w.startedAt.Add(w.currentTask.TimeoutDuration()), true
}

// Data returns the introspection snapshot.
func (w *Worker) Data() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := WorkerInfo{
		WorkerID:      w.ID,
		Pid:           w.Process.Pid(),
		Status:        w.status.String(),
		FinishedCount: w.finishedCount,
		ActiveCancel:  w.isActiveCancel,
		Age:           time.Since(w.createdAt).Seconds(),
	}
	if w.currentTask != nil {
		info.CurrentTask = w.currentTask.Task
		info.CurrentTaskUUID = w.currentTask.LogUUID()
	}
	return info
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) SetStatus(s Status) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transition(s)
}

// MarkExited records the worker's shutdown message and releases stop waiters.
func (w *Worker) MarkExited() {
	w.mu.Lock()
	w.transition(StatusExited)
	w.mu.Unlock()
	w.exitSignaled.Set()
}

// MarkDead records an unexpected subprocess death. Returns true if a task
// was in flight and is now accounted canceled.
func (w *Worker) MarkDead() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	hadTask := w.currentTask != nil
	if hadTask {
		// The task dies with the process; keep the timeout runner away from it.
		w.isActiveCancel = false
		w.currentTask = nil
		w.startedAt = time.Time{}
	}
	w.transition(StatusError)
	w.retiredAt = time.Now()
	return hadTask
}

func (w *Worker) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status == StatusReady
}

func (w *Worker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask != nil
}

// IsFree reports a ready worker with no current task.
func (w *Worker) IsFree() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status == StatusReady && w.currentTask == nil
}

func (w *Worker) CountsForCapacity() bool {
	return w.Status().CountsForCapacity()
}

func (w *Worker) Inactive() bool {
	return w.Status().Inactive()
}

func (w *Worker) CurrentTask() *task.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask
}

func (w *Worker) IsActiveCancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isActiveCancel
}

func (w *Worker) StartedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startedAt
}

func (w *Worker) StoppingAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stoppingAt
}

func (w *Worker) RetiredAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retiredAt
}

func (w *Worker) FinishedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishedCount
}

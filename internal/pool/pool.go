package pool

import (
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/metrics"
	"github.com/art-tapin/dispatcher-fork/internal/process"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// Observer receives pool lifecycle notifications. Calls are made on
// dedicated goroutines so implementations may do network I/O.
type Observer interface {
	PoolEvent(event string, data map[string]any)
}

// Snapshot is the read-only pool state exposed to the control plane.
type Snapshot struct {
	MinWorkers   int          `json:"min_workers"`
	MaxWorkers   int          `json:"max_workers"`
	ShuttingDown bool         `json:"shutting_down"`
	Finished     int          `json:"finished_count"`
	Canceled     int          `json:"canceled_count"`
	Discarded    int          `json:"discard_count"`
	Queued       int          `json:"queued_count"`
	Blocked      int          `json:"blocked_count"`
	Busy         int          `json:"busy_count"`
	Processed    int          `json:"processed_count"`
	Received     int          `json:"received_count"`
	Workers      []WorkerInfo `json:"workers"`
}

// Pool owns the worker fleet and the four control loops: dispatch (caller
// driven), management (autoscale/spawn/reap), results ingestion, and the
// timeout runner. All fleet state is guarded by the management lock; the
// lock is never held across subprocess I/O, which is why process sends are
// buffered behind writer goroutines.
type Pool struct {
	minWorkers        int
	maxWorkers        int
	scaledownWait     time.Duration
	scaledownInterval time.Duration
	workerStopWait    time.Duration
	workerRemovalWait time.Duration
	shutdownTimeout   time.Duration

	runtime process.Runtime

	mgmtLock      sync.Mutex
	workers       map[int]*Worker
	nextWorkerID  int
	finishedCount int
	canceledCount int
	// lastUsedByCt maps a busy-worker count to when that usage level last
	// ended. A zero time marks the level as currently in use, which blocks
	// scale-down at that level.
	lastUsedByCt map[int]time.Time

	queuer  *Queuer
	blocker *Blocker

	shuttingDown  atomic.Bool
	started       atomic.Bool
	events        *Events
	timeoutRunner *WakeupRunner

	resultsDone chan struct{}
	mgmtDone    chan struct{}
	quitResults chan struct{}
	quitOnce    sync.Once

	exitEvent *Latch
	observer  Observer
}

// NewPool builds a pool over the given process runtime. Loops start on
// StartWorking.
func NewPool(cfg *config.PoolConfig, runtime process.Runtime) *Pool {
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 3 * time.Second
	}
	scaledownInterval := cfg.ScaledownInterval
	if scaledownInterval <= 0 {
		scaledownInterval = 15 * time.Second
	}

	p := &Pool{
		minWorkers:        cfg.MinWorkers,
		maxWorkers:        cfg.MaxWorkers,
		scaledownWait:     cfg.ScaledownWait,
		scaledownInterval: scaledownInterval,
		workerStopWait:    cfg.WorkerStopWait,
		workerRemovalWait: cfg.WorkerRemovalWait,
		shutdownTimeout:   shutdownTimeout,
		runtime:           runtime,
		workers:           make(map[int]*Worker),
		lastUsedByCt:      make(map[int]time.Time),
		events:            NewEvents(),
		resultsDone:       make(chan struct{}),
		mgmtDone:          make(chan struct{}),
		quitResults:       make(chan struct{}),
	}

	p.queuer = NewQueuer(p.workersSliceLocked)
	p.blocker = NewBlocker(p.queuer)
	p.timeoutRunner = NewWakeupRunner("worker_timeout_manager", p.wakeupSnapshot, p.cancelWorker)

	return p
}

// SetObserver registers the event sink. Call before StartWorking.
func (p *Pool) SetObserver(o Observer) {
	p.observer = o
}

// Events returns the observable latches.
func (p *Pool) Events() *Events {
	return p.events
}

// StartWorking launches the management, results and timeout goroutines.
// The forking lock is shared with producers so subprocess spawn never
// overlaps connection setup; exitEvent, when non-nil, is set if an internal
// loop dies unexpectedly.
func (p *Pool) StartWorking(forkingLock *sync.Mutex, exitEvent *Latch) {
	if p.started.Swap(true) {
		return
	}
	p.exitEvent = exitEvent
	p.goFatal("results_task", p.readResultsForever)
	p.goFatal("management_task", func() { p.manageWorkers(forkingLock) })
	p.timeoutRunner.wg.Add(1)
	p.goFatal("timeout_task", p.timeoutRunner.run)
}

func (p *Pool) goFatal(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Str("task", name).Interface("panic", r).
					Str("stack", string(debug.Stack())).Msg("internal pool task failed")
				if p.exitEvent != nil {
					p.exitEvent.Set()
				}
			}
		}()
		fn()
	}()
}

// Dispatch is the single entry point for new task messages. The message
// either starts on a free worker, waits in the Queuer or Blocker, or is
// discarded by policy; Dispatch itself never fails.
func (p *Pool) Dispatch(msg *task.Message) {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()

	unblocked := p.blocker.ProcessTask(msg)
	if unblocked == nil {
		return // held or discarded by duplicate policy
	}

	if p.shuttingDown.Load() {
		logger.Warn().Str("uuid", unblocked.LogUUID()).
			Msg("message arrived during shutdown, queueing for drop")
		p.queuer.Append(unblocked)
		return
	}

	worker := p.queuer.GetFreeWorker()
	if worker == nil {
		p.queuer.Append(unblocked)
		p.events.ManagementEvent.Set() // kick the manager to consider scale-up
		return
	}

	logger.Debug().Str("uuid", unblocked.LogUUID()).Int("worker_id", worker.ID).
		Msg("dispatching task to worker")
	worker.StartTask(unblocked)
	p.postTaskStartLocked(unblocked)
}

func (p *Pool) postTaskStartLocked(msg *task.Message) {
	if msg.HasTimeout() {
		p.timeoutRunner.Kick()
	}
	// Block scale-down at the new usage level.
	p.lastUsedByCt[p.runningCountLocked()] = time.Time{}
	metrics.RecordDispatch(msg.Task)
	p.notify("task.started", map[string]any{"uuid": msg.LogUUID(), "task": msg.Task})
}

// drainQueue releases policy-unblocked messages into the capacity queue,
// then re-enters Dispatch for every queued message while a free worker
// exists. The management lock is dropped between the pop decision and each
// dispatch so dispatch callers are never starved.
func (p *Pool) drainQueue() {
	p.mgmtLock.Lock()
	for _, msg := range p.blocker.PopUnblocked() {
		p.queuer.Append(msg)
	}
	p.mgmtLock.Unlock()

	processed := false
	for {
		p.mgmtLock.Lock()
		if p.shuttingDown.Load() || p.queuer.Count() == 0 || p.queuer.GetFreeWorker() == nil {
			p.mgmtLock.Unlock()
			break
		}
		msg := p.queuer.PopEligible()
		p.mgmtLock.Unlock()

		p.Dispatch(msg)
		processed = true
	}

	if processed {
		p.events.QueueCleared.Set()
	}
}

// readResultsForever consumes the shared outbound channel until shutdown.
func (p *Pool) readResultsForever() {
	defer close(p.resultsDone)

	for {
		var res process.Result
		select {
		case res = <-p.runtime.Results():
		case <-p.quitResults:
			logger.Debug().Msg("results loop force-quit")
			return
		}

		if res.Event == process.EventStop {
			if p.shuttingDown.Load() {
				logger.Debug().Strs("statuses", p.workerStatuses()).
					Msg("results loop got administrative stop")
				return
			}
			logger.Error().Msg("results channel got stop sentinel while not shutting down")
			continue
		}

		p.mgmtLock.Lock()
		worker := p.workers[res.Worker]
		p.mgmtLock.Unlock()
		if worker == nil {
			logger.Warn().Int("worker_id", res.Worker).Str("event", string(res.Event)).
				Msg("result for unknown worker, ignoring")
			continue
		}

		switch res.Event {
		case process.EventReady:
			worker.SetStatus(StatusReady)
			if p.allWorkersReady() {
				p.events.WorkersReady.Set()
			}
			p.notify("worker.ready", map[string]any{"worker_id": worker.ID})
			p.drainQueue()

		case process.EventShutdown:
			p.mgmtLock.Lock()
			worker.MarkExited()
			allInactive := true
			for _, other := range p.workers {
				if !other.Inactive() {
					allInactive = false
					break
				}
			}
			p.mgmtLock.Unlock()

			if p.shuttingDown.Load() {
				if allInactive {
					logger.Debug().Int("worker_id", worker.ID).
						Msg("last worker exited, results loop returning")
					return
				}
				logger.Debug().Int("worker_id", worker.ID).Strs("statuses", p.workerStatuses()).
					Msg("worker exited during shutdown")
			} else {
				logger.Debug().Int("worker_id", worker.ID).Msg("worker sent exit signal")
				p.events.ManagementEvent.Set()
			}

		case process.EventDone:
			p.processFinished(worker, res)
			p.drainQueue()

		default:
			logger.Warn().Str("event", string(res.Event)).Msg("unrecognized result event, ignoring")
		}
	}
}

// processFinished drives the worker and counters through one completed task.
func (p *Pool) processFinished(worker *Worker, res process.Result) {
	p.mgmtLock.Lock()
	msg := worker.CurrentTask()
	startedAt := worker.StartedAt()
	canceled := worker.IsActiveCancel() && res.Result == process.CancelResult

	// The scale-down clock for the current usage level starts the moment we
	// descend from it.
	p.lastUsedByCt[p.runningCountLocked()] = time.Now()

	if canceled {
		p.canceledCount++
	} else {
		p.finishedCount++
	}
	worker.MarkFinishedTask()
	workCleared := p.queuer.Count() == 0 && p.runningCountLocked() == 0
	p.mgmtLock.Unlock()

	uuid, taskName := "<unknown>", ""
	if msg != nil {
		uuid = msg.LogUUID()
		taskName = msg.Task
	}
	logger.Debug().Int("worker_id", worker.ID).Str("uuid", uuid).
		Bool("canceled", canceled).Str("result", res.Result).
		Int("ct", worker.FinishedCount()).Msg("worker finished task")

	if !startedAt.IsZero() {
		metrics.RecordCompletion(taskName, canceled, time.Since(startedAt).Seconds())
	}
	event := "task.finished"
	if canceled {
		event = "task.canceled"
	}
	p.notify(event, map[string]any{"uuid": uuid, "task": taskName, "worker_id": worker.ID})

	if workCleared {
		p.events.WorkCleared.Set()
	}
	if msg != nil && msg.HasTimeout() {
		p.timeoutRunner.Kick()
	}
}

// manageWorkers is the management loop: autoscale, spawn initialized
// workers, reap exited ones, until shutdown.
func (p *Pool) manageWorkers(forkingLock *sync.Mutex) {
	defer close(p.mgmtDone)

	for !p.shuttingDown.Load() {
		p.scaleWorkers()
		p.manageNewWorkers(forkingLock)
		p.manageOldWorkers()
		p.updateGauges()

		select {
		case <-p.events.ManagementEvent.Chan():
		case <-time.After(p.scaledownInterval):
		}
		p.events.ManagementEvent.Clear()
	}

	logger.Debug().Msg("pool worker management loop exiting")
}

// scaleWorkers initiates scale-up and scale-down. Scale-up only creates the
// in-memory record; manageNewWorkers does the actual fork. Scale-down only
// signals stop; manageOldWorkers reconciles the outcome.
func (p *Pool) scaleWorkers() {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()

	var available []*Worker
	for _, w := range p.workers {
		if w.CountsForCapacity() {
			available = append(available, w)
		}
	}
	workerCt := len(available)

	switch {
	case workerCt < p.minWorkers:
		// Scale up to MIN for startup, or back up if workers died
		var workerIDs []int
		for i := workerCt; i < p.minWorkers; i++ {
			workerIDs = append(workerIDs, p.upLocked())
		}
		logger.Info().Ints("worker_ids", workerIDs).Int("prior_ct", workerCt).
			Msg("creating workers to satisfy min_workers")

	case p.activeTaskCtLocked() > workerCt:
		if workerCt < p.maxWorkers {
			id := p.upLocked()
			logger.Info().Int("worker_id", id).Int("prior_ct", workerCt).
				Msg("creating worker to handle queue pressure")
		} else {
			logger.Warn().Int("max_workers", p.maxWorkers).
				Msg("queue pressure at max_workers, capacity may be insufficient")
		}

	case workerCt > p.minWorkers:
		if p.shouldScaleDownLocked() {
			for _, w := range available {
				if !w.IsBusy() {
					logger.Info().Int("worker_id", w.ID).Int("prior_ct", workerCt).
						Msg("scaling down worker due to low demand")
					w.SignalStop()
					break // at most one retirement per pass
				}
			}
		}
	}
}

// shouldScaleDownLocked is true when the last time this many workers were
// all in use is longer ago than the scale-down wait.
func (p *Pool) shouldScaleDownLocked() bool {
	workerCt := 0
	for _, w := range p.workers {
		if w.CountsForCapacity() {
			workerCt++
		}
	}
	lastUsed, ok := p.lastUsedByCt[workerCt]
	if !ok || lastUsed.IsZero() {
		return false
	}
	return time.Since(lastUsed) > p.scaledownWait
}

// manageNewWorkers forks subprocesses for initialized workers. Slow; only
// ever called from the management loop. The forking lock is shared with
// producers to avoid forking while they are connecting.
func (p *Pool) manageNewWorkers(forkingLock *sync.Mutex) {
	p.mgmtLock.Lock()
	var pending []*Worker
	for _, w := range p.workers {
		if w.Status() == StatusInitialized {
			pending = append(pending, w)
		}
	}
	p.mgmtLock.Unlock()

	for _, w := range pending {
		forkingLock.Lock()
		w.Start()
		forkingLock.Unlock()
		// Starting a worker may have freed capacity for queued work
		p.drainQueue()
	}
}

// manageOldWorkers reconciles dying and dead workers: detects unexpected
// deaths, joins exited processes, escalates stuck stops, and removes
// long-retired records from the fleet.
func (p *Pool) manageOldWorkers() {
	now := time.Now()

	p.mgmtLock.Lock()
	var toStop []*Worker
	var removeIDs []int
	for _, w := range p.workers {
		status := w.Status()

		// Workers that died without telling us
		if status != StatusRetired && status != StatusError && status != StatusExited &&
			status != StatusInitialized && status != StatusSpawned && !w.Process.IsAlive() {
			logger.Error().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).
				Str("status", status.String()).Msg("worker has died unexpectedly")
			if msg := w.CurrentTask(); msg != nil {
				logger.Error().Str("uuid", msg.LogUUID()).Int("worker_id", w.ID).
					Msg("task was running but the worker died unexpectedly")
			}
			if w.MarkDead() {
				p.canceledCount++
			}
			metrics.WorkerUnexpectedDeaths.Inc()
			continue
		}

		switch {
		case status == StatusExited:
			toStop = append(toStop, w) // happy path

		case status == StatusStopping && !w.StoppingAt().IsZero() &&
			now.Sub(w.StoppingAt()) > p.workerStopWait:
			logger.Warn().Int("worker_id", w.ID).Msg("worker failed to respond to stop signal")
			toStop = append(toStop, w) // aggressively bring down the process

		case status.Terminal() && !w.RetiredAt().IsZero() &&
			now.Sub(w.RetiredAt()) > p.workerRemovalWait:
			removeIDs = append(removeIDs, w.ID)
		}
	}
	p.mgmtLock.Unlock()

	// Stop blocks on join/kill, so never under the management lock.
	for _, w := range toStop {
		w.Stop()
	}

	for _, id := range removeIDs {
		p.mgmtLock.Lock()
		if _, ok := p.workers[id]; ok {
			logger.Debug().Int("worker_id", id).Msg("fully removing worker")
			delete(p.workers, id)
		}
		p.mgmtLock.Unlock()
	}
}

// upLocked creates a worker record; the subprocess forks later in
// manageNewWorkers. Ids are monotonic and never reused.
func (p *Pool) upLocked() int {
	id := p.nextWorkerID
	w := NewWorker(id, p.runtime.NewProcess(id))
	p.workers[id] = w
	p.nextWorkerID++
	return id
}

// Up creates one worker record under the management lock.
func (p *Pool) Up() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.upLocked()
}

// cancelWorker is the timeout-runner callback: re-check the worker still
// runs the task, then deliver the cancel signal. The completion arrives
// through the results loop as a done with a "<cancel>" result.
func (p *Pool) cancelWorker(item HasWakeup) {
	w, ok := item.(*Worker)
	if !ok {
		return
	}
	msg := w.CurrentTask()
	startedAt := w.StartedAt()
	if msg == nil || startedAt.IsZero() {
		return
	}
	logger.Info().Int("worker_id", w.ID).Str("uuid", msg.LogUUID()).
		Float64("runtime", time.Since(startedAt).Seconds()).Float64("timeout", msg.Timeout).
		Msg("task runtime exceeded timeout, canceling")
	w.Cancel()
}

// CancelTask cancels by uuid wherever the message is: waiting messages are
// removed and counted canceled, running ones get the cancel signal. Returns
// the uuids acted on.
func (p *Pool) CancelTask(uuid string) []string {
	var acted []string

	p.mgmtLock.Lock()
	if m := p.queuer.Remove(uuid); m != nil {
		p.canceledCount++
		acted = append(acted, m.LogUUID())
	}
	if m := p.blocker.Remove(uuid); m != nil {
		p.canceledCount++
		acted = append(acted, m.LogUUID())
	}
	var toCancel []*Worker
	for _, w := range p.workers {
		if cur := w.CurrentTask(); cur != nil && cur.UUID == uuid {
			toCancel = append(toCancel, w)
		}
	}
	p.mgmtLock.Unlock()

	for _, w := range toCancel {
		logger.Info().Int("worker_id", w.ID).Str("uuid", uuid).Msg("canceling running task by request")
		w.Cancel()
		acted = append(acted, uuid)
	}
	return acted
}

// stopWorkers signals every worker, then gathers their stops concurrently.
func (p *Pool) stopWorkers() {
	p.mgmtLock.Lock()
	workers := p.workersSliceLocked()
	for _, w := range workers {
		w.SignalStop()
	}
	p.mgmtLock.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

// forceShutdown kills every still-alive subprocess and force-quits the
// results loop.
func (p *Pool) forceShutdown() {
	p.mgmtLock.Lock()
	workers := p.workersSliceLocked()
	p.mgmtLock.Unlock()

	for _, w := range workers {
		if w.Process.Pid() != 0 && w.Process.IsAlive() {
			logger.Warn().Int("worker_id", w.ID).Int("pid", w.Process.Pid()).
				Msg("force killing worker")
			w.Process.Kill()
		}
	}

	p.quitOnce.Do(func() { close(p.quitResults) })
}

// Shutdown tears the pool down with escalating force. Idempotent in effect.
func (p *Pool) Shutdown() {
	if p.shuttingDown.Swap(true) {
		logger.Debug().Msg("pool shutdown requested again")
	}
	p.events.ManagementEvent.Set()
	p.timeoutRunner.Shutdown()
	p.stopWorkers()
	p.runtime.PostStop()

	logger.Info().Msg("waiting for the results loop to return")
	select {
	case <-p.resultsDone:
	case <-time.After(p.shutdownTimeout):
		logger.Warn().Dur("timeout", p.shutdownTimeout).
			Msg("results loop failed to return in time, forcing")
		p.forceShutdown()
		select {
		case <-p.resultsDone:
		case <-time.After(p.shutdownTimeout):
			logger.Error().Msg("results loop did not return after force shutdown")
		}
	}

	select {
	case <-p.mgmtDone:
	case <-time.After(p.shutdownTimeout):
		logger.Error().Msg("management loop failed to shut down")
	}

	p.logDroppedMessages()
	logger.Info().Msg("pool is shut down")
}

func (p *Pool) logDroppedMessages() {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	for _, m := range p.queuer.Messages() {
		logger.Warn().Str("uuid", m.LogUUID()).Str("task", m.Task).
			Msg("dropping queued message at shutdown")
	}
	for _, m := range p.blocker.Messages() {
		logger.Warn().Str("uuid", m.LogUUID()).Str("task", m.Task).
			Msg("dropping blocked message at shutdown")
	}
}

// --- accounting and introspection ---

// runningCountLocked is the number of busy workers.
func (p *Pool) runningCountLocked() int {
	ct := 0
	for _, w := range p.workers {
		if w.IsBusy() {
			ct++
		}
	}
	return ct
}

// activeTaskCtLocked is the number of tasks running or immediately eligible
// to run. Blocker-held messages are excluded on purpose: duplicate-only
// pressure must not spawn workers that cannot help.
func (p *Pool) activeTaskCtLocked() int {
	return p.runningCountLocked() + p.queuer.Count()
}

func (p *Pool) RunningCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.runningCountLocked()
}

func (p *Pool) FinishedCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.finishedCount
}

func (p *Pool) CanceledCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.canceledCount
}

func (p *Pool) DiscardCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.blocker.DiscardCount()
}

func (p *Pool) QueuedCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.queuer.Count()
}

func (p *Pool) BlockedCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.blocker.Count()
}

// ProcessedCount is every message that reached a terminal outcome.
func (p *Pool) ProcessedCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.processedCountLocked()
}

func (p *Pool) processedCountLocked() int {
	return p.finishedCount + p.canceledCount + p.blocker.DiscardCount()
}

// ReceivedCount is every message accepted by Dispatch, terminal or not.
func (p *Pool) ReceivedCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.processedCountLocked() + p.queuer.Count() + p.blocker.Count() + p.runningCountLocked()
}

// WorkerCount is the total number of tracked workers, any status.
func (p *Pool) WorkerCount() int {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return len(p.workers)
}

// Worker returns the record for one id, or nil.
func (p *Pool) Worker(id int) *Worker {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	return p.workers[id]
}

// WorkersData returns introspection snapshots ordered by worker id.
func (p *Pool) WorkersData() []WorkerInfo {
	p.mgmtLock.Lock()
	workers := p.workersSliceLocked()
	p.mgmtLock.Unlock()

	infos := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		infos = append(infos, w.Data())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].WorkerID < infos[j].WorkerID })
	return infos
}

// RunningTasks returns the introspection payloads of busy workers only.
func (p *Pool) RunningTasks() []WorkerInfo {
	var running []WorkerInfo
	for _, info := range p.WorkersData() {
		if info.CurrentTaskUUID != "" {
			running = append(running, info)
		}
	}
	return running
}

// Snapshot returns the control-plane view of the pool.
func (p *Pool) Snapshot() Snapshot {
	p.mgmtLock.Lock()
	snap := Snapshot{
		MinWorkers:   p.minWorkers,
		MaxWorkers:   p.maxWorkers,
		ShuttingDown: p.shuttingDown.Load(),
		Finished:     p.finishedCount,
		Canceled:     p.canceledCount,
		Discarded:    p.blocker.DiscardCount(),
		Queued:       p.queuer.Count(),
		Blocked:      p.blocker.Count(),
		Busy:         p.runningCountLocked(),
	}
	snap.Processed = snap.Finished + snap.Canceled + snap.Discarded
	snap.Received = snap.Processed + snap.Queued + snap.Blocked + snap.Busy
	p.mgmtLock.Unlock()

	snap.Workers = p.WorkersData()
	return snap
}

// ShuttingDown reports whether Shutdown has begun.
func (p *Pool) ShuttingDown() bool {
	return p.shuttingDown.Load()
}

// workersSliceLocked snapshots the fleet; callers hold the management lock.
func (p *Pool) workersSliceLocked() []*Worker {
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	return out
}

func (p *Pool) allWorkersReady() bool {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	if len(p.workers) == 0 {
		return false
	}
	for _, w := range p.workers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

func (p *Pool) workerStatuses() []string {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	statuses := make([]string, 0, len(p.workers))
	for _, w := range p.workers {
		statuses = append(statuses, w.Status().String())
	}
	return statuses
}

func (p *Pool) wakeupSnapshot() []HasWakeup {
	p.mgmtLock.Lock()
	defer p.mgmtLock.Unlock()
	items := make([]HasWakeup, 0, len(p.workers))
	for _, w := range p.workers {
		items = append(items, w)
	}
	return items
}

func (p *Pool) updateGauges() {
	p.mgmtLock.Lock()
	counts := make(map[Status]int)
	for _, w := range p.workers {
		counts[w.Status()]++
	}
	queued, blocked := p.queuer.Count(), p.blocker.Count()
	p.mgmtLock.Unlock()

	for s := StatusInitialized; s <= StatusRetired; s++ {
		metrics.SetWorkerCount(s.String(), counts[s])
	}
	metrics.SetQueueDepths(queued, blocked)
}

func (p *Pool) notify(event string, data map[string]any) {
	if p.observer != nil {
		go p.observer.PoolEvent(event, data)
	}
}

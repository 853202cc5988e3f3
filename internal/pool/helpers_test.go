package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/pool/pooltest"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// waitFor polls until cond holds, failing the test at the deadline.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// sleepMsg builds a task message executing a sleep of the given seconds.
func sleepMsg(uuid string, seconds float64) *task.Message {
	return &task.Message{
		UUID:   uuid,
		Task:   "sleep",
		Kwargs: map[string]any{"duration": seconds},
	}
}

// identicalSleepMsg builds messages sharing one identity but distinct uuids.
func identicalSleepMsg(i int, seconds float64, policy string) *task.Message {
	return &task.Message{
		UUID:        fmt.Sprintf("dup-%d", i),
		Task:        "sleep",
		Kwargs:      map[string]any{"duration": seconds},
		OnDuplicate: policy,
	}
}

func testPoolConfig(min, max int) *config.PoolConfig {
	return &config.PoolConfig{
		MinWorkers:        min,
		MaxWorkers:        max,
		ScaledownWait:     time.Minute,
		ScaledownInterval: 20 * time.Millisecond,
		WorkerStopWait:    time.Second,
		WorkerRemovalWait: time.Minute,
		ShutdownTimeout:   2 * time.Second,
	}
}

// newTestPool builds and starts a pool over the fake runtime.
func newTestPool(t *testing.T, cfg *config.PoolConfig) (*Pool, *pooltest.Runtime) {
	t.Helper()
	rt := pooltest.NewRuntime()
	p := NewPool(cfg, rt)
	p.StartWorking(&sync.Mutex{}, NewLatch())
	t.Cleanup(p.Shutdown)
	return p, rt
}

// newReadyWorker builds a standalone worker in ready status over the fake
// runtime, for Queuer/Blocker unit tests.
func newReadyWorker(rt *pooltest.Runtime, id int) *Worker {
	w := NewWorker(id, rt.NewProcess(id))
	w.Start()
	w.SetStatus(StatusReady)
	return w
}

func capacityCount(p *Pool) int {
	ct := 0
	for _, info := range p.WorkersData() {
		switch info.Status {
		case "initialized", "spawned", "starting", "ready":
			ct++
		}
	}
	return ct
}

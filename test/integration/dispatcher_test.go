// Package integration runs the dispatcher's end-to-end scenarios against the
// in-process worker runtime, which speaks the same protocol as the real
// taskworker subprocess.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/pool"
	"github.com/art-tapin/dispatcher-fork/internal/pool/pooltest"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

func startPool(t *testing.T, min, max int) (*pool.Pool, *pooltest.Runtime) {
	t.Helper()
	rt := pooltest.NewRuntime()
	p := pool.NewPool(&config.PoolConfig{
		MinWorkers:        min,
		MaxWorkers:        max,
		ScaledownWait:     time.Minute,
		ScaledownInterval: 20 * time.Millisecond,
		WorkerStopWait:    time.Second,
		WorkerRemovalWait: 200 * time.Millisecond,
		ShutdownTimeout:   2 * time.Second,
	}, rt)
	p.StartWorking(&sync.Mutex{}, pool.NewLatch())
	t.Cleanup(p.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, p.Events().WorkersReady.Wait(ctx))
	return p, rt
}

func sleepTask(uuid string, seconds float64, policy string) *task.Message {
	return &task.Message{
		UUID:        uuid,
		Task:        "sleep",
		Kwargs:      map[string]any{"duration": seconds},
		OnDuplicate: policy,
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

func TestSingleTask(t *testing.T) {
	p, _ := startPool(t, 1, 4)

	msg := sleepTask("A", 0.01, "")
	msg.Timeout = 5
	p.Dispatch(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, p.Events().WorkCleared.Wait(ctx))
	assert.Equal(t, 1, p.FinishedCount())
}

func TestBackpressureScaleUp(t *testing.T) {
	p, _ := startPool(t, 1, 4)

	for i := 0; i < 15; i++ {
		p.Dispatch(sleepTask(fmt.Sprintf("bp-%d", i), 0.1, "parallel"))
	}

	eventually(t, 10*time.Second, func() bool { return p.FinishedCount() == 15 }, "15 tasks should finish")
	assert.Equal(t, 0, p.CanceledCount())
	assert.LessOrEqual(t, p.WorkerCount(), 4, "fleet must stay within max_workers")
}

func TestDiscardPolicy(t *testing.T) {
	p, _ := startPool(t, 1, 4)

	msgs := make([]*task.Message, 10)
	for i := range msgs {
		msgs[i] = &task.Message{
			UUID:        fmt.Sprintf("dscd-%d", i),
			Task:        "sleep",
			Args:        []any{9.0},
			Kwargs:      map[string]any{"duration": 9.0},
			OnDuplicate: "discard",
		}
	}
	for _, m := range msgs {
		p.Dispatch(m)
	}

	eventually(t, 2*time.Second, func() bool { return p.ReceivedCount() >= 10 }, "messages should be received")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, p.FinishedCount())
	assert.Equal(t, 9, p.DiscardCount())
	assert.Equal(t, 1, p.RunningCount(), "first task should still be running")
}

func TestSerialPolicy(t *testing.T) {
	p, _ := startPool(t, 1, 4)

	for i := 0; i < 10; i++ {
		p.Dispatch(sleepTask(fmt.Sprintf("srl-%d", i), 2, "serial"))
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, p.FinishedCount())
	assert.Equal(t, 1, p.RunningCount())
	assert.Equal(t, 9, p.BlockedCount())
	assert.Equal(t, 0, p.DiscardCount())
}

func TestQueueOnePolicy(t *testing.T) {
	p, _ := startPool(t, 1, 4)

	for i := 0; i < 10; i++ {
		p.Dispatch(sleepTask(fmt.Sprintf("qo-%d", i), 2, "queue_one"))
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, p.RunningCount())
	assert.Equal(t, 1, p.BlockedCount())
	assert.Equal(t, 8, p.DiscardCount())
}

func TestTimeoutCancellation(t *testing.T) {
	p, _ := startPool(t, 1, 4)

	msg := sleepTask("to", 10, "")
	msg.Timeout = 0.2
	p.Dispatch(msg)

	eventually(t, 2*time.Second, func() bool { return p.CanceledCount() == 1 }, "timeout should cancel the task")
	assert.Equal(t, 0, p.FinishedCount())
}

func TestUnexpectedDeath(t *testing.T) {
	p, rt := startPool(t, 1, 4)

	p.Dispatch(sleepTask("X", 30, ""))
	eventually(t, 2*time.Second, func() bool { return p.RunningCount() == 1 }, "task should start")

	rt.Proc(0).Kill()

	eventually(t, 2*time.Second, func() bool { return p.CanceledCount() == 1 }, "death should count the task canceled")
	w := p.Worker(0)
	require.NotNil(t, w)
	assert.Equal(t, pool.StatusError, w.Status())

	// The record ages out and the pool scales back up to min_workers
	eventually(t, 3*time.Second, func() bool { return p.Worker(0) == nil }, "dead worker should be removed")
	eventually(t, 3*time.Second, func() bool {
		for _, info := range p.WorkersData() {
			if info.Status == "ready" {
				return true
			}
		}
		return false
	}, "a replacement worker should become ready")
}

func TestShutdownDropsQueuedMessages(t *testing.T) {
	p, _ := startPool(t, 1, 1)

	p.Dispatch(sleepTask("busy", 5, ""))
	eventually(t, 2*time.Second, func() bool { return p.RunningCount() == 1 }, "task should start")
	p.Dispatch(sleepTask("waits-forever", 5, ""))
	assert.Equal(t, 1, p.QueuedCount())

	p.Shutdown()

	// The queued message reached no terminal counter; it was dropped
	assert.Equal(t, 0, p.FinishedCount())
	assert.Equal(t, 1, p.CanceledCount(), "the running task is canceled by stop")
}

// taskworker is the worker-side executor. The dispatcher spawns one per
// pool worker: task messages arrive as JSON frames on stdin, results leave
// as JSON lines on stdout, and SIGUSR1 cancels the task in flight.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/process"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

var stopFrame = []byte(`"stop"`)

type executor struct {
	workerID int

	outMu sync.Mutex
	out   *json.Encoder

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func main() {
	workerID := flag.Int("worker-id", 0, "pool-assigned worker id")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	// stdout carries the result protocol; logs go to stderr
	logger.Init(*logLevel, false)

	e := &executor{
		workerID: *workerID,
		out:      json.NewEncoder(os.Stdout),
	}

	// The out-of-band cancellation signal interrupts the current task
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	go func() {
		for range sigCh {
			e.cancelCurrent()
		}
	}()

	log := logger.WithWorker(*workerID)
	log.Info().Msg("task worker starting")

	e.emit(process.Result{Worker: e.workerID, Event: process.EventReady})
	e.loop(os.Stdin)

	log.Info().Msg("task worker exiting")
}

func (e *executor) loop(r io.Reader) {
	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err != io.EOF {
				wlog := logger.WithWorker(e.workerID)
				wlog.Error().Err(err).Msg("stdin decode failed")
			}
			e.emit(process.Result{Worker: e.workerID, Event: process.EventShutdown})
			return
		}

		if bytes.Equal(bytes.TrimSpace(raw), stopFrame) {
			e.emit(process.Result{Worker: e.workerID, Event: process.EventShutdown})
			return
		}

		var msg task.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			wlog := logger.WithWorker(e.workerID)
			wlog.Warn().Str("frame", string(raw)).
				Msg("undecodable inbound frame, ignoring")
			continue
		}

		e.emit(process.Result{
			Worker: e.workerID,
			Event:  process.EventDone,
			Result: e.run(&msg),
		})
	}
}

// run executes one task message and returns the result payload.
func (e *executor) run(msg *task.Message) string {
	ctx, cancel := context.WithCancel(context.Background())
	e.setCancel(cancel)
	defer func() {
		e.setCancel(nil)
		cancel()
	}()

	log := logger.WithTask(msg.LogUUID())
	log.Debug().Str("task", msg.Task).Msg("executing task")

	result, err := dispatchHandler(ctx, msg)
	if ctx.Err() != nil {
		log.Info().Msg("task canceled")
		return process.CancelResult
	}
	if err != nil {
		log.Error().Err(err).Msg("task failed")
		return fmt.Sprintf("error: %v", err)
	}
	return result
}

func (e *executor) cancelCurrent() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *executor) setCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancel = cancel
	e.cancelMu.Unlock()
}

func (e *executor) emit(res process.Result) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if err := e.out.Encode(res); err != nil {
		wlog := logger.WithWorker(e.workerID)
		wlog.Error().Err(err).Msg("stdout write failed")
	}
}

// dispatchHandler routes a message to its handler by task name.
func dispatchHandler(ctx context.Context, msg *task.Message) (string, error) {
	switch msg.Task {
	case "echo":
		return echoHandler(msg)
	case "sleep":
		return sleepHandler(ctx, msg)
	case "compute":
		return computeHandler(ctx, msg)
	case "fail":
		return "", fmt.Errorf("intentional failure for testing")
	default:
		return "", fmt.Errorf("unknown task %q", msg.Task)
	}
}

func echoHandler(msg *task.Message) (string, error) {
	data, err := json.Marshal(map[string]any{"args": msg.Args, "kwargs": msg.Kwargs})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sleepHandler(ctx context.Context, msg *task.Message) (string, error) {
	duration := time.Second
	if d, ok := msg.Kwargs["duration"].(float64); ok {
		duration = time.Duration(d * float64(time.Second))
	}

	select {
	case <-time.After(duration):
		return fmt.Sprintf("slept %s", duration), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func computeHandler(ctx context.Context, msg *task.Message) (string, error) {
	iterations := 1000000
	if i, ok := msg.Kwargs["iterations"].(float64); ok {
		iterations = int(i)
	}

	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			sum += i
		}
	}
	return fmt.Sprintf("%d", sum), nil
}

package broker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

type dispatchRecorder struct {
	mu   sync.Mutex
	msgs []*task.Message
}

func (d *dispatchRecorder) dispatch(msg *task.Message) {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
}

func (d *dispatchRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

func newTestListener(rec *dispatchRecorder) *Listener {
	cfg := &config.BrokerConfig{Channels: []string{"dispatcher:tasks"}}
	return NewListener(nil, cfg, rec.dispatch)
}

func TestHandlePayload_DispatchesImmediateMessage(t *testing.T) {
	rec := &dispatchRecorder{}
	l := newTestListener(rec)

	l.handlePayload(context.Background(), "dispatcher:tasks",
		[]byte(`{"uuid":"u1","task":"sleep","timeout":5}`))

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "u1", rec.msgs[0].UUID)
	assert.Equal(t, 5.0, rec.msgs[0].Timeout)
}

func TestHandlePayload_DropsGarbage(t *testing.T) {
	rec := &dispatchRecorder{}
	l := newTestListener(rec)

	l.handlePayload(context.Background(), "dispatcher:tasks", []byte("not json"))
	l.handlePayload(context.Background(), "dispatcher:tasks", []byte(`{"uuid":"no-task"}`))

	assert.Equal(t, 0, rec.count())
}

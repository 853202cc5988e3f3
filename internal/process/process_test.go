package process

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_JSON(t *testing.T) {
	res := Result{Worker: 3, Event: EventDone, Result: CancelResult}
	assert.Equal(t, Event("done"), res.Event)

	var parsed Result
	err := json.Unmarshal([]byte(`{"worker":3,"event":"done","result":"<cancel>"}`), &parsed)
	require.NoError(t, err)
	assert.Equal(t, res, parsed)
}

func TestManager_PostStop(t *testing.T) {
	m := NewManager([]string{"true"})
	m.PostStop()

	select {
	case res := <-m.Results():
		assert.Equal(t, EventStop, res.Event)
	default:
		t.Fatal("expected stop sentinel on results channel")
	}
}

func TestProxy_NotStarted(t *testing.T) {
	m := NewManager([]string{"true"})
	p := m.NewProcess(7)

	assert.Equal(t, 0, p.Pid())
	assert.False(t, p.IsAlive())
	assert.Equal(t, -1, p.ExitCode())
	// Joining an unspawned process returns immediately
	assert.True(t, p.Join(10*time.Millisecond))
	assert.Error(t, p.Signal(CancelSignal))
}

func TestProxy_SpawnFailure(t *testing.T) {
	m := NewManager([]string{"/nonexistent/worker/binary"})
	p := m.NewProcess(1)

	err := p.Start()
	assert.Error(t, err)
	assert.False(t, p.IsAlive())
}

func TestProxy_EchoRoundTrip(t *testing.T) {
	// cat echoes stdin to stdout, so a well-formed result frame sent inbound
	// comes back on the shared results channel. It runs under sh -c so the
	// appended --worker-id flag lands in sh's positional parameters instead
	// of cat's options.
	m := NewManager([]string{"sh", "-c", "cat", "sh"})
	p := m.NewProcess(2)

	require.NoError(t, p.Start())
	assert.NotZero(t, p.Pid())
	assert.True(t, p.IsAlive())

	p.Send(Result{Worker: 2, Event: EventReady})

	select {
	case res := <-m.Results():
		assert.Equal(t, 2, res.Worker)
		assert.Equal(t, EventReady, res.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}

	p.Kill()
	assert.True(t, p.Join(2*time.Second))
	assert.False(t, p.IsAlive())
}

func TestProxy_DoubleStart(t *testing.T) {
	m := NewManager([]string{"cat"})
	p := m.NewProcess(4)

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())

	p.Kill()
	assert.True(t, p.Join(2*time.Second))
}

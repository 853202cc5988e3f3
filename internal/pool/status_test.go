package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "initialized", StatusInitialized.String())
	assert.Equal(t, "spawned", StatusSpawned.String())
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "stopping", StatusStopping.String())
	assert.Equal(t, "exited", StatusExited.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "retired", StatusRetired.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusInitialized.CanTransitionTo(StatusSpawned))
	assert.True(t, StatusSpawned.CanTransitionTo(StatusStarting))
	assert.True(t, StatusStarting.CanTransitionTo(StatusReady))
	assert.True(t, StatusReady.CanTransitionTo(StatusStopping))
	assert.True(t, StatusStopping.CanTransitionTo(StatusExited))
	assert.True(t, StatusExited.CanTransitionTo(StatusRetired))

	// Liveness faults can strike any non-terminal status
	for _, s := range []Status{StatusInitialized, StatusSpawned, StatusStarting, StatusReady, StatusStopping, StatusExited} {
		assert.True(t, s.CanTransitionTo(StatusError), "%s -> error", s)
	}

	// Terminal statuses are only left by deletion
	assert.False(t, StatusRetired.CanTransitionTo(StatusReady))
	assert.False(t, StatusError.CanTransitionTo(StatusReady))
	assert.False(t, StatusError.CanTransitionTo(StatusRetired))

	// No resurrection or skipping
	assert.False(t, StatusExited.CanTransitionTo(StatusReady))
	assert.False(t, StatusInitialized.CanTransitionTo(StatusReady))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusInitialized, StatusSpawned, StatusStarting, StatusReady} {
		assert.True(t, s.CountsForCapacity(), "%s", s)
	}
	for _, s := range []Status{StatusStopping, StatusExited, StatusError, StatusRetired} {
		assert.False(t, s.CountsForCapacity(), "%s", s)
	}

	for _, s := range []Status{StatusInitialized, StatusExited, StatusError} {
		assert.True(t, s.Inactive(), "%s", s)
	}
	for _, s := range []Status{StatusSpawned, StatusStarting, StatusReady, StatusStopping, StatusRetired} {
		assert.False(t, s.Inactive(), "%s", s)
	}

	assert.True(t, StatusRetired.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusReady.Terminal())
}

// Package broker is the producer side of the dispatcher: it receives task
// messages from Redis and feeds ready-to-run ones into the pool. Delayed
// messages wait in a sorted set until due, so the pool core only ever sees
// messages that may run now.
package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// DispatchFunc hands one ready-to-run message to the pool.
type DispatchFunc func(*task.Message)

// Listener subscribes to the configured task channels and dispatches decoded
// messages.
type Listener struct {
	client    *redis.Client
	channels  []string
	dispatch  DispatchFunc
	scheduler *Scheduler

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewListener creates a listener over the given Redis client.
func NewListener(client *redis.Client, cfg *config.BrokerConfig, dispatch DispatchFunc) *Listener {
	l := &Listener{
		client:   client,
		channels: cfg.Channels,
		dispatch: dispatch,
		stopCh:   make(chan struct{}),
	}
	l.scheduler = NewScheduler(client, cfg.PollInterval, dispatch)
	return l
}

// Start subscribes and begins the receive loop and the delayed-message
// scheduler.
func (l *Listener) Start(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	l.scheduler.Start(ctx)

	l.wg.Add(1)
	go l.receiveLoop(ctx, pubsub)

	logger.Info().Strs("channels", l.channels).Msg("broker listener started")
	return nil
}

// Stop tears down the subscription and the scheduler.
func (l *Listener) Stop() {
	l.once.Do(func() { close(l.stopCh) })
	l.scheduler.Stop()
	l.wg.Wait()
	logger.Info().Msg("broker listener stopped")
}

func (l *Listener) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer l.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.handlePayload(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (l *Listener) handlePayload(ctx context.Context, channel string, payload []byte) {
	msg, err := task.FromJSON(payload)
	if err != nil {
		logger.Error().Err(err).Str("channel", channel).Msg("undecodable task message, dropping")
		return
	}
	if msg.Task == "" {
		logger.Error().Str("channel", channel).Str("uuid", msg.LogUUID()).
			Msg("task message without a task, dropping")
		return
	}

	if msg.Delay > 0 {
		if err := l.scheduler.Schedule(ctx, msg); err != nil {
			logger.Error().Err(err).Str("uuid", msg.LogUUID()).Msg("failed to schedule delayed message")
		}
		return
	}

	logger.Debug().Str("channel", channel).Str("uuid", msg.LogUUID()).Msg("task message received")
	l.dispatch(msg)
}

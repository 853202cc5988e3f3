package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

const (
	delayedSetKey       = "dispatcher:delayed"
	schedulerLockKey    = "dispatcher:delayed:lock"
	defaultPollInterval = 1 * time.Second
	schedulerLockTTL    = 5 * time.Second
)

// Scheduler holds delayed messages in a sorted set scored by due time and
// dispatches them once due. Delay is a producer concern: the pool never sees
// a message before its delay has elapsed.
type Scheduler struct {
	client       *redis.Client
	dispatch     DispatchFunc
	pollInterval time.Duration
	stopCh       chan struct{}
	once         sync.Once
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler polling at the given interval.
func NewScheduler(client *redis.Client, pollInterval time.Duration, dispatch DispatchFunc) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Scheduler{
		client:       client,
		dispatch:     dispatch,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.schedulerLoop(ctx)

	logger.Info().
		Dur("poll_interval", s.pollInterval).
		Msg("delayed-message scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	logger.Info().Msg("delayed-message scheduler stopped")
}

// Schedule stores a delayed message; the member is its serialized form and
// the score its due time.
func (s *Scheduler) Schedule(ctx context.Context, msg *task.Message) error {
	due := time.Now().UTC().Add(time.Duration(msg.Delay * float64(time.Second)))

	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal delayed message: %w", err)
	}

	err = s.client.ZAdd(ctx, delayedSetKey, redis.Z{
		Score:  float64(due.UnixMilli()) / 1000.0,
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add message to delayed set: %w", err)
	}

	logger.Debug().Str("uuid", msg.LogUUID()).Float64("delay", msg.Delay).
		Msg("message scheduled for delayed dispatch")
	return nil
}

func (s *Scheduler) schedulerLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processDueMessages(ctx)
		}
	}
}

func (s *Scheduler) processDueMessages(ctx context.Context) {
	// Only one dispatcher node drains the delayed set at a time
	locked, err := s.client.SetNX(ctx, schedulerLockKey, "1", schedulerLockTTL).Result()
	if err != nil || !locked {
		return
	}
	defer s.client.Del(ctx, schedulerLockKey)

	now := float64(time.Now().UTC().UnixMilli()) / 1000.0
	members, err := s.client.ZRangeByScore(ctx, delayedSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch due messages")
		return
	}

	for _, member := range members {
		msg, err := task.FromJSON([]byte(member))
		if err != nil {
			logger.Error().Err(err).Msg("undecodable delayed message, removing")
			s.client.ZRem(ctx, delayedSetKey, member)
			continue
		}

		if err := s.client.ZRem(ctx, delayedSetKey, member).Err(); err != nil {
			logger.Error().Err(err).Str("uuid", msg.LogUUID()).Msg("failed to remove due message")
			continue
		}

		logger.Debug().Str("uuid", msg.LogUUID()).Msg("delayed message is due, dispatching")
		s.dispatch(msg)
	}
}

// DelayedCount returns the number of messages waiting on their delay.
func DelayedCount(ctx context.Context, client *redis.Client) (int64, error) {
	return client.ZCard(ctx, delayedSetKey).Result()
}

// RemoveDelayed removes a delayed message by uuid, for control-plane cancel.
func RemoveDelayed(ctx context.Context, client *redis.Client, uuid string) (bool, error) {
	members, err := client.ZRange(ctx, delayedSetKey, 0, -1).Result()
	if err != nil {
		return false, err
	}
	for _, member := range members {
		msg, err := task.FromJSON([]byte(member))
		if err != nil {
			continue
		}
		if msg.UUID == uuid {
			if err := client.ZRem(ctx, delayedSetKey, member).Err(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

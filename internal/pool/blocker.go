package pool

import (
	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/metrics"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// Blocker holds messages that may not run because of their on_duplicate
// policy. Held messages do not count toward scaling pressure: spawning a
// worker cannot make a policy-blocked message runnable. All methods expect
// the pool's management lock to be held.
type Blocker struct {
	queuer       *Queuer
	blocked      []*task.Message
	discardCount int
}

func NewBlocker(queuer *Queuer) *Blocker {
	return &Blocker{queuer: queuer}
}

// ProcessTask applies the duplicate-suppression policy. It returns the
// message when it may proceed to dispatch, or nil when it was held here or
// discarded. Unknown policies are logged and treated as parallel.
func (b *Blocker) ProcessTask(msg *task.Message) *task.Message {
	policy, known := task.ParseOnDuplicate(msg.OnDuplicate)
	if !known {
		logger.Warn().Str("uuid", msg.LogUUID()).Str("on_duplicate", msg.OnDuplicate).
			Msg("unknown on_duplicate value, treating as parallel")
	}

	key := msg.IdentityKey()
	switch policy {
	case task.Parallel:
		return msg

	case task.Serial:
		// Queue behind a running duplicate; a merely-queued one does not
		// block, because the release path re-applies this policy.
		if b.runningMatch(key) {
			b.hold(msg)
			return nil
		}
		return msg

	case task.QueueOne:
		if b.waitingMatch(key) {
			b.discard(msg)
			return nil
		}
		if b.runningMatch(key) {
			b.hold(msg)
			return nil
		}
		return msg

	case task.Discard:
		if b.runningMatch(key) || b.waitingMatch(key) {
			b.discard(msg)
			return nil
		}
		return msg
	}
	return msg
}

// PopUnblocked releases messages whose blocking predecessors are gone. They
// re-enter dispatch, which re-applies the policy, so identical serial
// messages still run one at a time.
func (b *Blocker) PopUnblocked() []*task.Message {
	var released []*task.Message
	var still []*task.Message
	for _, msg := range b.blocked {
		if b.runningMatch(msg.IdentityKey()) {
			still = append(still, msg)
			continue
		}
		released = append(released, msg)
	}
	b.blocked = still
	return released
}

// Count returns the number of held messages.
func (b *Blocker) Count() int {
	return len(b.blocked)
}

// DiscardCount returns how many messages the policy dropped.
func (b *Blocker) DiscardCount() int {
	return b.discardCount
}

// Messages returns a copy of the held messages for shutdown logging.
func (b *Blocker) Messages() []*task.Message {
	out := make([]*task.Message, len(b.blocked))
	copy(out, b.blocked)
	return out
}

// Remove deletes the first held message with the given uuid.
func (b *Blocker) Remove(uuid string) *task.Message {
	for i, m := range b.blocked {
		if m.UUID == uuid {
			b.blocked = append(b.blocked[:i], b.blocked[i+1:]...)
			return m
		}
	}
	return nil
}

func (b *Blocker) hold(msg *task.Message) {
	logger.Debug().Str("uuid", msg.LogUUID()).Str("task", msg.Task).
		Str("policy", msg.OnDuplicate).Msg("duplicate running, holding message")
	b.blocked = append(b.blocked, msg)
}

func (b *Blocker) discard(msg *task.Message) {
	logger.Debug().Str("uuid", msg.LogUUID()).Str("task", msg.Task).
		Str("policy", msg.OnDuplicate).Msg("duplicate detected, discarding message")
	b.discardCount++
	metrics.RecordDiscard()
}

// runningMatch reports a busy worker executing a message with this identity.
func (b *Blocker) runningMatch(key string) bool {
	for _, w := range b.queuer.workers() {
		if cur := w.CurrentTask(); cur != nil && cur.IdentityKey() == key {
			return true
		}
	}
	return false
}

// waitingMatch reports a matching message already held here or queued on
// capacity.
func (b *Blocker) waitingMatch(key string) bool {
	for _, m := range b.blocked {
		if m.IdentityKey() == key {
			return true
		}
	}
	return b.queuer.MatchesQueued(key)
}

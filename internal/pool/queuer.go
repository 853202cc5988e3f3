package pool

import (
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

// Queuer is the FIFO of messages that are eligible to run but waiting on
// worker capacity. Capacity-blocked messages count toward scaling pressure,
// unlike Blocker-held ones. All methods expect the pool's management lock to
// be held.
type Queuer struct {
	workers  func() []*Worker
	messages []*task.Message
}

func NewQueuer(workers func() []*Worker) *Queuer {
	return &Queuer{workers: workers}
}

// Append adds a message at the tail.
func (q *Queuer) Append(msg *task.Message) {
	q.messages = append(q.messages, msg)
}

// Count returns the number of queued messages.
func (q *Queuer) Count() int {
	return len(q.messages)
}

// Messages returns a copy for iteration and shutdown logging.
func (q *Queuer) Messages() []*task.Message {
	out := make([]*task.Message, len(q.messages))
	copy(out, q.messages)
	return out
}

// PopEligible removes and returns the next runnable message. In the baseline
// Queuer every present message is eligible.
func (q *Queuer) PopEligible() *task.Message {
	if len(q.messages) == 0 {
		return nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg
}

// Remove deletes the first message with the given uuid, preserving order.
func (q *Queuer) Remove(uuid string) *task.Message {
	for i, m := range q.messages {
		if m.UUID == uuid {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return m
		}
	}
	return nil
}

// GetFreeWorker scans the fleet for a ready worker with no current task.
func (q *Queuer) GetFreeWorker() *Worker {
	for _, w := range q.workers() {
		if w.IsFree() {
			return w
		}
	}
	return nil
}

// MatchesQueued reports whether a message with the given identity waits here.
func (q *Queuer) MatchesQueued(key string) bool {
	for _, m := range q.messages {
		if m.IdentityKey() == key {
			return true
		}
	}
	return false
}

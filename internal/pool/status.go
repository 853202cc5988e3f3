package pool

// Status represents the lifecycle state of one pool worker.
type Status int

const (
	StatusInitialized Status = iota // record created, subprocess not yet forked
	StatusSpawned                   // fork in progress
	StatusStarting                  // subprocess up, ready callback pending
	StatusReady                     // accepting task messages
	StatusStopping                  // stop signaled, waiting for exit
	StatusExited                    // worker reported shutdown
	StatusError                     // fault; best-effort cleanup done
	StatusRetired                   // subprocess confirmed gone
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusSpawned:
		return "spawned"
	case StatusStarting:
		return "starting"
	case StatusReady:
		return "ready"
	case StatusStopping:
		return "stopping"
	case StatusExited:
		return "exited"
	case StatusError:
		return "error"
	case StatusRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// validTransitions is the exhaustive transition table. A worker never leaves
// error or retired except by deletion from the fleet.
var validTransitions = map[Status][]Status{
	StatusInitialized: {StatusSpawned, StatusStopping, StatusError},
	StatusSpawned:     {StatusStarting, StatusStopping, StatusError},
	StatusStarting:    {StatusReady, StatusStopping, StatusExited, StatusError},
	StatusReady:       {StatusStopping, StatusExited, StatusError},
	StatusStopping:    {StatusExited, StatusRetired, StatusError},
	StatusExited:      {StatusRetired, StatusError},
	StatusError:       {},
	StatusRetired:     {},
}

// CanTransitionTo checks the transition table.
func (s Status) CanTransitionTo(target Status) bool {
	for _, v := range validTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// CountsForCapacity reports whether a worker in this status can absorb work
// now or soon.
func (s Status) CountsForCapacity() bool {
	switch s {
	case StatusInitialized, StatusSpawned, StatusStarting, StatusReady:
		return true
	}
	return false
}

// Inactive reports that no further shutdown or result messages are expected
// from a worker in this status.
func (s Status) Inactive() bool {
	switch s {
	case StatusInitialized, StatusExited, StatusError:
		return true
	}
	return false
}

// Terminal reports a status a worker only leaves by removal from the fleet.
func (s Status) Terminal() bool {
	return s == StatusRetired || s == StatusError
}

package resume

import (
	"context"
	"fmt"
	"time"
)

// State is the position of a transfer in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePreHook
	StateRequesting
	StateStreaming
	StateRetrying
	StateCompleted
	StateCancelled
	StateFatal
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StatePreHook:    "pre_hook",
	StateRequesting: "requesting",
	StateStreaming:  "streaming",
	StateRetrying:   "retrying",
	StateCompleted:  "completed",
	StateCancelled:  "cancelled",
	StateFatal:      "fatal",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFatal
}

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateIdle:       {StatePreHook, StateRequesting},
	StatePreHook:    {StateRequesting, StateRetrying, StateCancelled, StateFatal},
	StateRequesting: {StateStreaming, StateCompleted, StateRetrying, StateCancelled, StateFatal},
	StateStreaming:  {StateCompleted, StateRetrying, StateCancelled, StateFatal},
	StateRetrying:   {StatePreHook, StateRequesting, StateCancelled, StateFatal},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a read-only copy of a transfer's bookkeeping.
type Snapshot struct {
	ID           string
	State        State
	URL          string
	Offset       int64
	Length       int64 // -1 if unknown
	Position     int64
	Total        int64 // -1 if unknown
	Attempt      int
	AttemptTotal int
	Fingerprint  Fingerprint
	Cancelled    bool
}

// pendingKind names the single operation a transfer may be waiting on.
type pendingKind int

const (
	pendingHook pendingKind = iota + 1
	pendingRequest
	pendingWait
)

func (k pendingKind) String() string {
	switch k {
	case pendingHook:
		return "pre hook"
	case pendingRequest:
		return "request"
	case pendingWait:
		return "retry wait"
	default:
		return "none"
	}
}

// pending is the operation in flight. At most one exists at a time; a
// nil *pending means the transfer is between operations.
type pending struct {
	kind   pendingKind
	cancel context.CancelCauseFunc
	since  time.Time
}

func (p *pending) abort(cause error) {
	p.cancel(cause)
}

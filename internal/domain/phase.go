package domain

import "fmt"

// Phase is the orchestrator's position in the session state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseWaitingForPeer
	PhaseConnecting
	PhaseConnected
	PhaseEnded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseInitializing:
		return "Initializing"
	case PhaseWaitingForPeer:
		return "WaitingForPeer"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	case PhaseEnded:
		return "Ended"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// IsTerminal reports whether no transition may leave p.
func (p Phase) IsTerminal() bool {
	return p == PhaseEnded || p == PhaseFailed
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CanTransition reports whether to is a legal next phase after p.
// Terminal phases are reachable from any non-terminal phase, since a
// session may be torn down before it connects; everything else moves
// strictly forward by one step.
func (p Phase) CanTransition(to Phase) bool {
	if p.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return p != PhaseIdle || to == PhaseFailed
	}
	switch p {
	case PhaseIdle:
		return to == PhaseInitializing
	case PhaseInitializing:
		return to == PhaseWaitingForPeer
	case PhaseWaitingForPeer:
		return to == PhaseConnecting
	case PhaseConnecting:
		return to == PhaseConnected
	}
	return false
}

// EndReason tells who terminated the session.
type EndReason int

const (
	EndByUser EndReason = iota
	EndByRemote
	EndByFatal
)

func (r EndReason) String() string {
	switch r {
	case EndByUser:
		return "user"
	case EndByRemote:
		return "remote"
	case EndByFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

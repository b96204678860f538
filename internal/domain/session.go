package domain

import "time"

type (
	SessionID string
	Address   string
)

// Session is the per-call record owned by the orchestrator.
type Session struct {
	ID            SessionID
	Local         Participant
	Remote        Participant
	LocalAddress  Address
	RemoteAddress Address
	StartedAt     time.Time
}

// MediaState is the local view of the media toggles.
type MediaState struct {
	AudioEnabled bool `json:"audioEnabled"`
	VideoEnabled bool `json:"videoEnabled"`
}

type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ConnectionAttempt lives for the duration of one negotiation.
type ConnectionAttempt struct {
	ID        string
	Direction Direction
	StartedAt time.Time
	Outcome   Outcome
}

package core

import (
	"context"

	"github.com/dkeye/televisit/internal/domain"
)

// SignalTransport registers a participant under an address.
type SignalTransport interface {
	// Register starts registration. Readiness and registration-level
	// failures are reported on Registration.Events.
	Register(ctx context.Context, addr domain.Address) (Registration, error)
}

type RegistrationEventKind int

const (
	RegistrationReady RegistrationEventKind = iota
	RegistrationError
)

type RegistrationEvent struct {
	Kind RegistrationEventKind
	Err  error
}

// Registration is owned by the orchestrator; it must Close it.
type Registration interface {
	Address() domain.Address
	Events() <-chan RegistrationEvent
	Incoming() <-chan IncomingDial
	// Dial sends an offer to remote. A nil error means the offer reached
	// the remote party and the call is provisional until a RemoteStream
	// event arrives.
	Dial(ctx context.Context, remote domain.Address, local LocalStream) (Call, error)
	Close() error
}

// IncomingDial is an offer from the other party awaiting an answer.
type IncomingDial interface {
	ID() string
	From() domain.Address
	Answer(ctx context.Context, local LocalStream) (Call, error)
	Reject(reason error)
}

type CallEventKind int

const (
	CallRemoteStream CallEventKind = iota
	CallError
	CallClosed
)

type CallEvent struct {
	Kind   CallEventKind
	Stream RemoteStream
	Err    error
}

// Call is one negotiated media connection, inbound or outbound.
type Call interface {
	ID() string
	Remote() domain.Address
	Events() <-chan CallEvent
	// Close hangs up. The remote party receives CallClosed.
	Close() error
}

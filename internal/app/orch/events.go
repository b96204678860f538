package orch

import (
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

// event is the closed set of inputs to the session loop. Every callback
// from a helper goroutine or transport arrives as one of these.
type event interface{ isEvent() }

type (
	mediaReady struct {
		stream core.LocalStream
		err    error
	}
	relayReady struct {
		config domain.RelayConfig
	}
	registered struct {
		reg core.Registration
		err error
	}
	registrationEvent struct {
		ev core.RegistrationEvent
	}
	incomingDial struct {
		dial core.IncomingDial
	}
	// callResult reports the end of a dial or answer handshake.
	callResult struct {
		attempt *attempt
		call    core.Call
		err     error
	}
	callEvent struct {
		attempt *attempt
		ev      core.CallEvent
	}
	toggleMedia struct {
		kind    core.TrackKind
		enabled bool
		reply   chan domain.MediaState
	}
	endRequest struct {
		reason domain.EndReason
		done   chan struct{}
	}
)

func (mediaReady) isEvent()        {}
func (relayReady) isEvent()        {}
func (registered) isEvent()        {}
func (registrationEvent) isEvent() {}
func (incomingDial) isEvent()      {}
func (callResult) isEvent()        {}
func (callEvent) isEvent()         {}
func (toggleMedia) isEvent()       {}
func (endRequest) isEvent()        {}

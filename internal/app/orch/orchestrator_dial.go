package orch

import (
	"errors"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

// register starts signaling once both the local stream and the relay
// config are known.
func (o *Orchestrator) register() {
	if o.stream == nil || o.relayConfig == nil || o.reg != nil {
		return
	}
	o.store.SetStatus(StatusRegistering)
	transport := o.transport(*o.relayConfig)
	local := o.info.LocalAddress
	go func() {
		reg, err := transport.Register(o.ctx, local)
		if !o.post(registered{reg: reg, err: err}) && reg != nil {
			reg.Close()
		}
	}()
}

func (o *Orchestrator) onRegistered(ev registered) {
	if ev.err != nil {
		o.logger.Error().Err(ev.err).Msg("registration failed")
		o.end(domain.EndByFatal, StatusSignalFailed)
		return
	}
	o.reg = ev.reg
	go func() {
		for {
			select {
			case <-o.done:
				return
			case e := <-ev.reg.Events():
				if !o.post(registrationEvent{ev: e}) {
					return
				}
			case d := <-ev.reg.Incoming():
				if !o.post(incomingDial{dial: d}) {
					d.Reject(domain.ErrSessionClosed)
					return
				}
			}
		}
	}()
}

func (o *Orchestrator) onRegistrationEvent(ev core.RegistrationEvent) {
	switch ev.Kind {
	case core.RegistrationReady:
		if !o.transition(domain.PhaseWaitingForPeer, StatusWaiting) {
			return
		}
		o.logger.Info().Str("address", string(o.info.LocalAddress)).Msg("registered")
		o.dialTicker = o.clock.NewTicker(o.interval)
		o.dialTick()
	case core.RegistrationError:
		switch {
		case errors.Is(ev.Err, domain.ErrAddressRegistered):
			o.logger.Info().Err(ev.Err).Msg("stale registration replaced")
		case o.connected:
			o.logger.Warn().Err(ev.Err).Msg("signaling lost, keeping established call")
		default:
			o.logger.Error().Err(ev.Err).Msg("registration unusable")
			o.end(domain.EndByFatal, StatusSignalFailed)
		}
	}
}

// dialTick fires one outbound attempt unless the session is connected or
// a previous dial is still in flight.
func (o *Orchestrator) dialTick() {
	if o.connected || o.dialing || o.ended || o.reg == nil {
		return
	}
	o.dialing = true
	a := o.newAttempt(domain.Outbound)
	reg, remote, stream := o.reg, o.info.RemoteAddress, o.stream
	o.logger.Debug().Str("attempt", a.ID).Str("to", string(remote)).Msg("dialing")
	go func() {
		call, err := reg.Dial(o.ctx, remote, stream)
		if !o.post(callResult{attempt: a, call: call, err: err}) && call != nil {
			call.Close()
		}
	}()
}

func (o *Orchestrator) onIncoming(d core.IncomingDial) {
	if o.connected {
		o.logger.Info().Str("from", string(d.From())).Msg("rejecting dial, already connected")
		d.Reject(domain.ErrBusy)
		return
	}
	a := o.newAttempt(domain.Inbound)
	stream := o.stream
	o.logger.Info().Str("attempt", a.ID).Str("from", string(d.From())).Msg("answering incoming dial")
	go func() {
		call, err := d.Answer(o.ctx, stream)
		if !o.post(callResult{attempt: a, call: call, err: err}) && call != nil {
			call.Close()
		}
	}()
}

func (o *Orchestrator) onCallResult(ev callResult) {
	a := ev.attempt
	if a.Direction == domain.Outbound {
		o.dialing = false
	}
	if ev.err != nil {
		a.Outcome = domain.OutcomeFailed
		switch {
		case errors.Is(ev.err, domain.ErrPeerUnavailable):
			o.logger.Debug().Str("attempt", a.ID).Msg("peer not registered yet")
			if !o.connected {
				o.store.SetStatus(StatusWaiting)
			}
		default:
			o.logger.Warn().Err(ev.err).Str("attempt", a.ID).Str("direction", a.Direction.String()).Msg("attempt failed")
		}
		return
	}

	a.call = ev.call
	o.attempts[a] = struct{}{}
	if o.connected {
		o.logger.Info().Str("attempt", a.ID).Msg("discarding late attempt")
		o.drop(a, domain.OutcomeFailed)
		return
	}
	o.watch(a)
	if o.store.Snapshot().Phase == domain.PhaseWaitingForPeer {
		o.transition(domain.PhaseConnecting, StatusConnecting)
	}
}

func (o *Orchestrator) onCallEvent(ev callEvent) {
	a := ev.attempt
	if _, live := o.attempts[a]; !live {
		return
	}
	switch ev.ev.Kind {
	case core.CallRemoteStream:
		o.bind(a, ev.ev.Stream)
	case core.CallError, core.CallClosed:
		if a == o.bound {
			o.logger.Info().Err(ev.ev.Err).Str("attempt", a.ID).Msg("call closed by remote")
			o.end(domain.EndByRemote, StatusEndedByRemote)
			return
		}
		o.logger.Debug().Err(ev.ev.Err).Str("attempt", a.ID).Msg("attempt dropped")
		o.drop(a, domain.OutcomeFailed)
	}
}

package orch

import (
	"context"
	"time"

	"github.com/dkeye/televisit/internal/domain"
)

const completeTimeout = 5 * time.Second

func (o *Orchestrator) onEndRequest(ev endRequest) {
	status := StatusEndedByUser
	if ev.reason == domain.EndByRemote {
		status = StatusEndedByRemote
	}
	o.end(ev.reason, status)
	close(ev.done)
}

// end terminates the session. Only the first call has any effect. The
// appointment is marked complete only when the local user ended the call;
// a remote close or a fatal error leaves that decision to the user.
func (o *Orchestrator) end(reason domain.EndReason, status string) {
	if o.ended {
		return
	}
	phase := domain.PhaseEnded
	if reason == domain.EndByFatal {
		phase = domain.PhaseFailed
	}
	o.shutdown(phase, status)
	o.logger.Info().Str("reason", reason.String()).Str("status", status).Msg("session ended")

	if reason == domain.EndByUser {
		o.markComplete()
	}
	o.store.Close()
}

// teardown ends the session because its owner went away. It is not an
// end-call action and never completes the appointment.
func (o *Orchestrator) teardown(status string) {
	if o.ended {
		return
	}
	o.shutdown(domain.PhaseEnded, status)
	o.logger.Info().Msg("session released")
	o.store.Close()
}

// shutdown releases every resource the session holds and records the
// terminal phase.
func (o *Orchestrator) shutdown(phase domain.Phase, status string) {
	o.ended = true
	o.cancel()
	o.stopDialLoop()
	o.stopTimer()
	o.media.Release()
	for a := range o.attempts {
		o.drop(a, a.Outcome)
	}
	o.bound = nil
	if o.reg != nil {
		o.reg.Close()
	}
	o.store.ClearRemote()
	o.store.SetMedia(o.media.State())
	o.transition(phase, status)
}

func (o *Orchestrator) markComplete() {
	if o.appts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()
	if err := o.appts.MarkSessionComplete(ctx, o.info.ID); err != nil {
		o.logger.Error().Err(err).Msg("marking appointment complete failed")
		return
	}
	o.logger.Info().Msg("appointment marked complete")
}

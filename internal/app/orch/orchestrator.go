// Package orch drives one call session: it acquires media, registers with
// signaling, races the outbound dial loop against inbound dials and owns
// every phase transition of the session.
package orch

import (
	"context"
	"time"

	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/clock"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	StatusStarting      = "Starting camera and microphone…"
	StatusDeviceDenied  = "Camera and microphone access was denied"
	StatusNoDevice      = "No camera or microphone available"
	StatusRegistering   = "Connecting to the call service…"
	StatusWaiting       = "Waiting for the other party to join…"
	StatusConnecting    = "Connecting…"
	StatusConnected     = "Connected"
	StatusEndedByUser   = "Call ended"
	StatusEndedByRemote = "Call ended by remote party"
	StatusSignalFailed  = "Could not reach the call service"
	StatusClosed        = "Call closed"
	StatusInvalidRole   = "Unknown participant role"
)

// attempt is one inbound or outbound negotiation and the call it produced.
type attempt struct {
	domain.ConnectionAttempt
	call core.Call
	stop chan struct{}
}

// Orchestrator is the session state machine. All fields below events are
// owned by run and touched nowhere else.
type Orchestrator struct {
	info      domain.Session
	store     *app.StateStore
	media     *app.MediaController
	transport TransportFactory
	relay     RelaySource
	appts     core.AppointmentService
	quality   app.QualityPolicy
	clock     clock.Clock
	interval  time.Duration
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	stream      core.LocalStream
	relayConfig *domain.RelayConfig
	reg         core.Registration
	dialTicker  *clock.Ticker
	timer       *clock.Ticker
	dialing     bool
	connected   bool
	ended       bool
	bound       *attempt
	attempts    map[*attempt]struct{}
}

func newOrchestrator(ctx context.Context, info domain.Session, deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		info:      info,
		store:     app.NewStateStore(),
		media:     app.NewMediaController(deps.Device),
		transport: deps.Transport,
		relay:     deps.Relay,
		appts:     deps.Appointments,
		quality:   deps.Quality,
		clock:     deps.Clock,
		interval:  deps.DialInterval,
		logger: log.With().
			Str("module", "orch").
			Str("sid", string(info.ID)).
			Str("role", string(info.Local.Role)).
			Logger(),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 16),
		done:     make(chan struct{}),
		attempts: make(map[*attempt]struct{}),
	}
}

// post hands ev to the loop. It reports false once the loop has exited.
func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)

	o.transition(domain.PhaseInitializing, StatusStarting)
	if !o.info.Local.Role.Valid() {
		o.logger.Error().Msg("invalid local role")
		o.end(domain.EndByFatal, StatusInvalidRole)
		return
	}
	o.startMedia()
	o.startRelay()

	for !o.ended {
		select {
		case <-o.ctx.Done():
			o.teardown(StatusClosed)
		case ev := <-o.events:
			o.handle(ev)
		case <-o.tickerC(o.dialTicker):
			o.dialTick()
		case <-o.tickerC(o.timer):
			o.durationTick()
		}
	}
}

// tickerC returns nil for a stopped ticker so its select case never fires.
func (o *Orchestrator) tickerC(t *clock.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (o *Orchestrator) handle(ev event) {
	switch ev := ev.(type) {
	case mediaReady:
		o.onMedia(ev)
	case relayReady:
		o.onRelay(ev)
	case registered:
		o.onRegistered(ev)
	case registrationEvent:
		o.onRegistrationEvent(ev.ev)
	case incomingDial:
		o.onIncoming(ev.dial)
	case callResult:
		o.onCallResult(ev)
	case callEvent:
		o.onCallEvent(ev)
	case toggleMedia:
		o.onToggle(ev)
	case endRequest:
		o.onEndRequest(ev)
	}
}

// transition moves the store to p. Refused transitions are logged: they
// mean an event arrived that the current phase does not expect.
func (o *Orchestrator) transition(p domain.Phase, status string) bool {
	from := o.store.Snapshot().Phase
	if err := o.store.SetPhase(p, status); err != nil {
		o.logger.Debug().Err(err).Msg("transition refused")
		return false
	}
	o.logger.Info().Str("from", from.String()).Str("to", p.String()).Msg("phase")
	return true
}

func (o *Orchestrator) newAttempt(dir domain.Direction) *attempt {
	return &attempt{
		ConnectionAttempt: domain.ConnectionAttempt{
			ID:        uuid.NewString(),
			Direction: dir,
			StartedAt: o.clock.Now(),
			Outcome:   domain.OutcomePending,
		},
		stop: make(chan struct{}),
	}
}

// watch forwards call events into the loop until the attempt is dropped.
func (o *Orchestrator) watch(a *attempt) {
	go func() {
		for {
			select {
			case <-a.stop:
				return
			case <-o.done:
				return
			case ev := <-a.call.Events():
				if !o.post(callEvent{attempt: a, ev: ev}) {
					return
				}
			}
		}
	}()
}

// drop discards a non-winning attempt and hangs up its call.
func (o *Orchestrator) drop(a *attempt, outcome domain.Outcome) {
	if _, ok := o.attempts[a]; !ok {
		return
	}
	delete(o.attempts, a)
	a.Outcome = outcome
	close(a.stop)
	if a.call != nil {
		a.call.Close()
	}
}

package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/clock"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

const DefaultDialInterval = 3 * time.Second

// Params identify the appointment and the local participant.
type Params struct {
	SessionID  domain.SessionID
	LocalName  string
	RemoteName string
	LocalRole  domain.Role
}

// TransportFactory builds the signaling transport once the relay config is
// known, since media negotiation needs the relay servers.
type TransportFactory func(relay domain.RelayConfig) core.SignalTransport

// RelaySource is implemented by app.RelayProvider. FetchAsync must
// deliver within a bounded time; the session waits for it before
// registering.
type RelaySource interface {
	FetchAsync(ctx context.Context) <-chan domain.RelayConfig
	Fallback() domain.RelayConfig
}

// Deps are the collaborators of a session. Transport and Device are
// required; the rest have defaults.
type Deps struct {
	Transport    TransportFactory
	Device       core.MediaDevice
	Relay        RelaySource
	Appointments core.AppointmentService
	Quality      app.QualityPolicy
	Clock        clock.Clock
	DialInterval time.Duration
}

func (d *Deps) applyDefaults() {
	if d.Relay == nil {
		d.Relay = app.NewRelayProvider("", 0, nil, nil)
	}
	if d.Quality == nil {
		d.Quality = app.DefaultQualityPolicy()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.DialInterval <= 0 {
		d.DialInterval = DefaultDialInterval
	}
}

// Session is the handle to a running call session.
type Session struct {
	o *Orchestrator
}

// StartSession starts a session in the background. release tears it down
// without completing the appointment; it is idempotent and also runs when
// ctx is canceled.
func StartSession(ctx context.Context, p Params, deps Deps) (*Session, func()) {
	deps.applyDefaults()
	var resolver app.IdentityResolver
	local, remote := resolver.Resolve(p.SessionID, p.LocalRole)
	info := domain.Session{
		ID:            p.SessionID,
		Local:         domain.Participant{Name: p.LocalName, Role: p.LocalRole},
		Remote:        domain.Participant{Name: p.RemoteName, Role: p.LocalRole.Other()},
		LocalAddress:  local,
		RemoteAddress: remote,
		StartedAt:     deps.Clock.Now(),
	}

	o := newOrchestrator(ctx, info, deps)
	go o.run()

	var once sync.Once
	release := func() {
		once.Do(func() {
			o.cancel()
			<-o.done
		})
	}
	return &Session{o: o}, release
}

func (s *Session) Info() domain.Session { return s.o.info }

func (s *Session) Snapshot() app.Snapshot { return s.o.store.Snapshot() }

// Subscribe streams snapshots until the session is over.
func (s *Session) Subscribe() (<-chan app.Snapshot, func()) { return s.o.store.Subscribe() }

// RemoteStream returns the bound remote stream, or nil.
func (s *Session) RemoteStream() core.RemoteStream { return s.o.store.RemoteStream() }

// Done is closed once the session reached a terminal phase and released
// its resources.
func (s *Session) Done() <-chan struct{} { return s.o.done }

// End is the user's end-call action. Calls after the first are no-ops.
func (s *Session) End() { s.end(domain.EndByUser) }

func (s *Session) end(reason domain.EndReason) {
	req := endRequest{reason: reason, done: make(chan struct{})}
	if !s.o.post(req) {
		return
	}
	select {
	case <-req.done:
	case <-s.o.done:
	}
}

func (s *Session) SetAudioEnabled(enabled bool) domain.MediaState {
	return s.toggle(core.TrackAudio, enabled)
}

func (s *Session) SetVideoEnabled(enabled bool) domain.MediaState {
	return s.toggle(core.TrackVideo, enabled)
}

func (s *Session) toggle(kind core.TrackKind, enabled bool) domain.MediaState {
	req := toggleMedia{kind: kind, enabled: enabled, reply: make(chan domain.MediaState, 1)}
	if !s.o.post(req) {
		return s.o.media.State()
	}
	select {
	case st := <-req.reply:
		return st
	case <-s.o.done:
		return s.o.media.State()
	}
}

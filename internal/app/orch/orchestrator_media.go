package orch

import (
	"errors"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

func (o *Orchestrator) startMedia() {
	go func() {
		stream, err := o.media.Acquire(o.ctx)
		o.post(mediaReady{stream: stream, err: err})
	}()
}

// startRelay posts the relay config once the provider answers. The
// provider bounds its own fetch and falls back on any failure, so the
// session never blocks on the credential service.
func (o *Orchestrator) startRelay() {
	fetched := o.relay.FetchAsync(o.ctx)
	go func() {
		cfg := o.relay.Fallback()
		select {
		case c, ok := <-fetched:
			if ok {
				cfg = c
			}
		case <-o.done:
			return
		}
		o.post(relayReady{config: cfg})
	}()
}

func (o *Orchestrator) onMedia(ev mediaReady) {
	if ev.err != nil {
		o.logger.Error().Err(ev.err).Msg("local media unavailable")
		status := StatusNoDevice
		if errors.Is(ev.err, domain.ErrPermissionDenied) {
			status = StatusDeviceDenied
		}
		o.end(domain.EndByFatal, status)
		return
	}
	o.stream = ev.stream
	o.store.SetMedia(o.media.State())
	o.register()
}

func (o *Orchestrator) onRelay(ev relayReady) {
	cfg := ev.config
	o.relayConfig = &cfg
	o.logger.Info().Int("servers", len(cfg.Servers)).Bool("fallback", cfg.Fallback).Msg("relay config ready")
	o.register()
}

// bind makes a the session's call if nothing is bound yet. The first
// remote stream wins; any later one belongs to a loser and is dropped.
func (o *Orchestrator) bind(a *attempt, stream core.RemoteStream) {
	if o.connected {
		if a != o.bound {
			o.logger.Info().Str("attempt", a.ID).Msg("discarding losing attempt")
			o.drop(a, domain.OutcomeFailed)
		}
		return
	}
	o.connected = true
	o.bound = a
	a.Outcome = domain.OutcomeSucceeded
	o.stopDialLoop()
	for other := range o.attempts {
		if other != a {
			o.drop(other, domain.OutcomeFailed)
		}
	}

	o.store.BindRemote(stream)
	if o.store.Snapshot().Phase == domain.PhaseWaitingForPeer {
		o.transition(domain.PhaseConnecting, StatusConnecting)
	}
	o.transition(domain.PhaseConnected, StatusConnected)
	o.timer = o.clock.NewTicker(time.Second)
	o.logger.Info().
		Str("attempt", a.ID).
		Str("direction", a.Direction.String()).
		Str("remote_stream", stream.ID()).
		Msg("call connected")
}

func (o *Orchestrator) stopDialLoop() {
	if o.dialTicker != nil {
		o.dialTicker.Stop()
		o.dialTicker = nil
	}
}

func (o *Orchestrator) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) durationTick() {
	o.store.Tick()
	if o.bound == nil || o.quality == nil {
		return
	}
	if qs, ok := o.bound.call.(core.QualitySource); ok {
		o.store.SetQuality(o.quality.Grade(qs.RoundTrip()))
	}
}

func (o *Orchestrator) onToggle(ev toggleMedia) {
	var st domain.MediaState
	if ev.kind == core.TrackAudio {
		st = o.media.SetAudioEnabled(ev.enabled)
	} else {
		st = o.media.SetVideoEnabled(ev.enabled)
	}
	o.store.SetMedia(st)
	ev.reply <- st
}

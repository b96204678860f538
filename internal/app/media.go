package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
)

// MediaController owns the local capture stream. It is the only component
// that changes track enabled state.
type MediaController struct {
	device core.MediaDevice

	mu       sync.Mutex
	stream   core.LocalStream
	state    domain.MediaState
	released bool
}

func NewMediaController(device core.MediaDevice) *MediaController {
	return &MediaController{device: device}
}

// Acquire opens the device once. Device failures wrap domain.ErrDevice;
// a controller that was already released returns domain.ErrSessionClosed
// and stops anything the device handed out in the meantime.
func (m *MediaController) Acquire(ctx context.Context) (core.LocalStream, error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	if m.stream != nil {
		s := m.stream
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	stream, err := m.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire local media: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		stopTracks(stream)
		return nil, domain.ErrSessionClosed
	}
	m.stream = stream
	for _, t := range stream.Tracks() {
		switch t.Kind() {
		case core.TrackAudio:
			m.state.AudioEnabled = t.Enabled()
		case core.TrackVideo:
			m.state.VideoEnabled = t.Enabled()
		}
	}
	log.Info().Str("module", "media").Str("stream", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("local media acquired")
	return stream, nil
}

func (m *MediaController) SetAudioEnabled(enabled bool) domain.MediaState {
	return m.setEnabled(core.TrackAudio, enabled)
}

func (m *MediaController) SetVideoEnabled(enabled bool) domain.MediaState {
	return m.setEnabled(core.TrackVideo, enabled)
}

func (m *MediaController) setEnabled(kind core.TrackKind, enabled bool) domain.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || m.released {
		return m.state
	}
	for _, t := range m.stream.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
	if kind == core.TrackAudio {
		m.state.AudioEnabled = enabled
	} else {
		m.state.VideoEnabled = enabled
	}
	return m.state
}

func (m *MediaController) State() domain.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Release stops every track. Calls after the first are no-ops.
func (m *MediaController) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	if m.stream != nil {
		stopTracks(m.stream)
		log.Info().Str("module", "media").Str("stream", m.stream.ID()).Msg("local media released")
	}
}

func stopTracks(s core.LocalStream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

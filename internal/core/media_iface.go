package core

import (
	"context"
	"time"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one local capture track. Enabled only gates what the source
// emits; it never triggers renegotiation.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	// Stop releases the underlying capture resource. Safe to call twice.
	Stop()
}

// LocalStream is the camera+microphone bundle shared read-only by the
// dial loop, the accept handler and the renderer.
type LocalStream interface {
	ID() string
	Tracks() []Track
}

// RemoteStream is the media received from the other party.
type RemoteStream interface {
	ID() string
}

// MediaDevice acquires local capture. Open may block on a permission
// prompt and must fail with an error wrapping domain.ErrDevice when
// access is denied or no hardware exists.
type MediaDevice interface {
	Open(ctx context.Context) (LocalStream, error)
}

// QualitySource is implemented by calls that can report transport
// round-trip time.
type QualitySource interface {
	RoundTrip() (time.Duration, bool)
}

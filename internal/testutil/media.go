package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/televisit/internal/core"
)

// FakeTrack records enable toggles and stops.
type FakeTrack struct {
	kind    core.TrackKind
	enabled atomic.Bool
	stops   atomic.Int32
}

func NewFakeTrack(kind core.TrackKind) *FakeTrack {
	t := &FakeTrack{kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *FakeTrack) Kind() core.TrackKind { return t.kind }
func (t *FakeTrack) Enabled() bool        { return t.enabled.Load() }
func (t *FakeTrack) SetEnabled(v bool)    { t.enabled.Store(v) }
func (t *FakeTrack) Stop()                { t.stops.Add(1) }

// Stops reports how many times Stop was called.
func (t *FakeTrack) Stops() int { return int(t.stops.Load()) }

// FakeStream is a local stream with one audio and one video track.
type FakeStream struct {
	id    string
	Audio *FakeTrack
	Video *FakeTrack
}

func NewFakeStream(id string) *FakeStream {
	return &FakeStream{
		id:    id,
		Audio: NewFakeTrack(core.TrackAudio),
		Video: NewFakeTrack(core.TrackVideo),
	}
}

func (s *FakeStream) ID() string           { return s.id }
func (s *FakeStream) Tracks() []core.Track { return []core.Track{s.Audio, s.Video} }

// FakeDevice hands out FakeStreams. Setting Err makes Open fail; setting
// Gate makes Open wait for it to be closed, like a permission prompt.
type FakeDevice struct {
	StreamID string
	Err      error
	Gate     chan struct{}

	mu      sync.Mutex
	streams []*FakeStream
}

func (d *FakeDevice) Open(ctx context.Context) (core.LocalStream, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.StreamID
	if id == "" {
		id = "local"
	}
	s := NewFakeStream(fmt.Sprintf("%s-%d", id, len(d.streams)))
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream handed out so far.
func (d *FakeDevice) Streams() []*FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeStream(nil), d.streams...)
}

type remoteStream string

func (r remoteStream) ID() string { return string(r) }

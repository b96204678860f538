package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// SyntheticDevice is a capture device without hardware: the audio track
// carries Opus silence, the video track is negotiated but idle. It lets a
// headless participant complete real calls.
type SyntheticDevice struct {
	// StreamID names the local stream; empty means a random id.
	StreamID string
}

var _ core.MediaDevice = (*SyntheticDevice)(nil)

func (d *SyntheticDevice) Open(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := d.StreamID
	if id == "" {
		id = uuid.NewString()
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", id)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", domain.ErrNoDevice, err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", id)
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %v", domain.ErrNoDevice, err)
	}

	s := &syntheticStream{
		id:    id,
		audio: newSyntheticTrack(core.TrackAudio, audio),
		video: newSyntheticTrack(core.TrackVideo, video),
	}
	go s.audio.pump(opusSilence)
	return s, nil
}

type syntheticStream struct {
	id    string
	audio *syntheticTrack
	video *syntheticTrack
}

func (s *syntheticStream) ID() string { return s.id }

func (s *syntheticStream) Tracks() []core.Track {
	return []core.Track{s.audio, s.video}
}

type syntheticTrack struct {
	kind    core.TrackKind
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	once    sync.Once
	done    chan struct{}
}

var _ LocalTrack = (*syntheticTrack)(nil)

func newSyntheticTrack(kind core.TrackKind, local *webrtc.TrackLocalStaticSample) *syntheticTrack {
	t := &syntheticTrack{kind: kind, local: local, done: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *syntheticTrack) Kind() core.TrackKind          { return t.kind }
func (t *syntheticTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *syntheticTrack) SetEnabled(v bool)             { t.enabled.Store(v) }
func (t *syntheticTrack) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *syntheticTrack) Stop() {
	t.once.Do(func() { close(t.done) })
}

// pump writes frame every frameDuration while the track is enabled.
func (t *syntheticTrack) pump(frame []byte) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := t.local.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
				return
			}
		}
	}
}

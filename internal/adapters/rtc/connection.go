package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LocalTrack is a core.Track backed by a pion track that can be sent.
type LocalTrack interface {
	core.Track
	TrackLocal() webrtc.TrackLocal
}

type remoteStream string

func (r remoteStream) ID() string { return string(r) }

// Connection is one peer connection carrying a call. It implements
// signaling.MediaSession and core.QualitySource.
type Connection struct {
	pc            *webrtc.PeerConnection
	logger        zerolog.Logger
	gatherTimeout time.Duration

	events     chan core.CallEvent
	done       chan struct{}
	streamOnce sync.Once
	closeOnce  sync.Once
}

func newConnection(api *webrtc.API, cfg webrtc.Configuration, gatherTimeout time.Duration, local core.LocalStream) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Connection{
		pc:            pc,
		logger:        log.With().Str("module", "webrtc").Str("stream", local.ID()).Logger(),
		gatherTimeout: gatherTimeout,
		events:        make(chan core.CallEvent, 4),
		done:          make(chan struct{}),
	}
	if err := c.attach(local); err != nil {
		pc.Close()
		return nil, err
	}
	c.start()
	return c, nil
}

// attach sends every pion-backed local track. Kinds without one are
// still negotiated receive-only so the remote media arrives.
func (c *Connection) attach(local core.LocalStream) error {
	sending := map[webrtc.RTPCodecType]bool{}
	for _, t := range local.Tracks() {
		lt, ok := t.(LocalTrack)
		if !ok {
			continue
		}
		sender, err := c.pc.AddTrack(lt.TrackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		sending[codecType(t.Kind())] = true
		go drainRTCP(sender)
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.emit(core.CallEvent{Kind: core.CallError, Err: fmt.Errorf("%w: peer connection failed", domain.ErrNegotiation)})
		case webrtc.PeerConnectionStateClosed:
			c.emit(core.CallEvent{Kind: core.CallClosed, Err: domain.ErrRemoteClosed})
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.streamOnce.Do(func() {
			c.emit(core.CallEvent{Kind: core.CallRemoteStream, Stream: remoteStream(track.StreamID())})
		})
		go drainRTP(track)
	})
}

func (c *Connection) emit(ev core.CallEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Connection) offer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return c.setLocal(ctx, offer)
}

func (c *Connection) answer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return c.setLocal(ctx, answer)
}

// setLocal applies desc and waits for candidate gathering, so the
// returned description is complete (vanilla ICE).
func (c *Connection) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(c.gatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", c.gatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *Connection) Events() <-chan core.CallEvent { return c.events }

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}

// RoundTrip reports the current RTT of the nominated candidate pair.
func (c *Connection) RoundTrip() (time.Duration, bool) {
	for _, s := range c.pc.GetStats() {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		if pair.CurrentRoundTripTime > 0 {
			return time.Duration(pair.CurrentRoundTripTime * float64(time.Second)), true
		}
	}
	return 0, false
}

func codecType(kind core.TrackKind) webrtc.RTPCodecType {
	if kind == core.TrackVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drainRTP(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

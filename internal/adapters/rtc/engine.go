package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/dkeye/televisit/internal/signaling"
	"github.com/pion/webrtc/v4"
)

const defaultGatherTimeout = 10 * time.Second

// Engine negotiates calls over pion peer connections using the relay
// servers of one session.
type Engine struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
}

var _ signaling.Engine = (*Engine)(nil)

type EngineOptions struct {
	// Loopback includes loopback candidates, for same-host peers.
	Loopback      bool
	GatherTimeout time.Duration
}

func NewEngine(relay domain.RelayConfig, opts EngineOptions) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(opts.Loopback)
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = defaultGatherTimeout
	}
	return &Engine{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config:        Configuration(relay),
		gatherTimeout: opts.GatherTimeout,
	}, nil
}

func (e *Engine) Offer(ctx context.Context, local core.LocalStream) (signaling.MediaSession, string, error) {
	c, err := newConnection(e.api, e.config, e.gatherTimeout, local)
	if err != nil {
		return nil, "", err
	}
	sdp, err := c.offer(ctx)
	if err != nil {
		c.Close()
		return nil, "", err
	}
	return c, sdp, nil
}

func (e *Engine) Answer(ctx context.Context, offer string, local core.LocalStream) (signaling.MediaSession, string, error) {
	c, err := newConnection(e.api, e.config, e.gatherTimeout, local)
	if err != nil {
		return nil, "", err
	}
	sdp, err := c.answer(ctx, offer)
	if err != nil {
		c.Close()
		return nil, "", err
	}
	return c, sdp, nil
}

package testutil

import (
	"context"

	"github.com/dkeye/televisit/internal/signaling"
)

// Switchboard is an in-process signaling server for tests. Each Dial
// returns the client end of a fresh Pipe served by the switchboard.
type Switchboard struct {
	*signaling.Switchboard
	ctx context.Context
}

func NewSwitchboard(ctx context.Context) *Switchboard {
	return &Switchboard{
		Switchboard: signaling.NewSwitchboard(signaling.NewRegistry(), nil),
		ctx:         ctx,
	}
}

func (s *Switchboard) Dial(ctx context.Context) (signaling.Conn, error) {
	client, server := signaling.Pipe()
	go s.Serve(s.ctx, server)
	return client, nil
}

// Transport returns a client transport connected to this switchboard.
func (s *Switchboard) Transport(engine signaling.Engine) *signaling.ClientTransport {
	return signaling.NewClientTransport(s.Dial, engine)
}

package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

type call struct {
	id      string
	remote  domain.Address
	reg     *registration
	session MediaSession

	events chan core.CallEvent
	done   chan struct{}
	once   sync.Once
}

var (
	_ core.Call          = (*call)(nil)
	_ core.QualitySource = (*call)(nil)
)

func newCall(id string, remote domain.Address, reg *registration, session MediaSession) *call {
	c := &call{
		id:      id,
		remote:  remote,
		reg:     reg,
		session: session,
		events:  make(chan core.CallEvent, 4),
		done:    make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *call) ID() string                    { return c.id }
func (c *call) Remote() domain.Address        { return c.remote }
func (c *call) Events() <-chan core.CallEvent { return c.events }

func (c *call) Close() error {
	c.shutdown(true)
	return nil
}

func (c *call) RoundTrip() (time.Duration, bool) {
	if qs, ok := c.session.(core.QualitySource); ok {
		return qs.RoundTrip()
	}
	return 0, false
}

// pump forwards media-path events until the call shuts down.
func (c *call) pump() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.session.Events():
			if !ok {
				return
			}
			c.emit(ev)
		}
	}
}

func (c *call) emit(ev core.CallEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// terminate reports ev and releases the call. hangup tells the remote
// party through the switchboard.
func (c *call) terminate(ev core.CallEvent, hangup bool) {
	c.emit(ev)
	c.shutdown(hangup)
}

func (c *call) shutdown(hangup bool) {
	c.once.Do(func() {
		close(c.done)
		c.session.Close()
		c.reg.forget(c.id)
		if hangup {
			c.reg.send(Message{Type: TypeHangup, CallID: c.id})
		}
	})
}

type incomingDial struct {
	id    string
	from  domain.Address
	offer string
	reg   *registration
}

var _ core.IncomingDial = (*incomingDial)(nil)

func (d *incomingDial) ID() string           { return d.id }
func (d *incomingDial) From() domain.Address { return d.from }

func (d *incomingDial) Answer(ctx context.Context, local core.LocalStream) (core.Call, error) {
	session, answer, err := d.reg.engine.Answer(ctx, d.offer, local)
	if err != nil {
		d.Reject(err)
		return nil, fmt.Errorf("%w: creating answer: %w", domain.ErrNegotiation, err)
	}
	c := newCall(d.id, d.from, d.reg, session)
	d.reg.track(c)
	if err := d.reg.conn.Send(Message{Type: TypeAnswer, CallID: d.id, SDP: answer}); err != nil {
		c.shutdown(false)
		return nil, fmt.Errorf("%w: sending answer: %w", domain.ErrNegotiation, err)
	}
	return c, nil
}

func (d *incomingDial) Reject(reason error) {
	msg := Message{Type: TypeReject, CallID: d.id, Code: CodeRejected}
	if reason != nil {
		msg.Code = CodeOf(reason)
		msg.Reason = reason.Error()
	}
	d.reg.send(msg)
}

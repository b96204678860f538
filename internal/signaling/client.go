package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DialFunc opens a connection to the switchboard.
type DialFunc func(ctx context.Context) (Conn, error)

// ClientTransport implements core.SignalTransport over a switchboard
// connection and a media Engine. Each Register opens its own connection.
type ClientTransport struct {
	dial   DialFunc
	engine Engine
}

var _ core.SignalTransport = (*ClientTransport)(nil)

func NewClientTransport(dial DialFunc, engine Engine) *ClientTransport {
	return &ClientTransport{dial: dial, engine: engine}
}

func (t *ClientTransport) Register(ctx context.Context, addr domain.Address) (core.Registration, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to signaling server: %w", domain.ErrRegistration, err)
	}
	r := newRegistration(addr, conn, t.engine)
	if err := conn.Send(Message{Type: TypeRegister, Address: addr}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrRegistration, err)
	}
	go r.readLoop()
	return r, nil
}

type dialResult struct {
	call *call
	err  error
}

type pendingDial struct {
	remote  domain.Address
	session MediaSession
	result  chan dialResult
}

type registration struct {
	addr   domain.Address
	conn   Conn
	engine Engine
	logger zerolog.Logger

	events   chan core.RegistrationEvent
	incoming chan core.IncomingDial

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]*pendingDial
	calls   map[string]*call
}

var _ core.Registration = (*registration)(nil)

func newRegistration(addr domain.Address, conn Conn, engine Engine) *registration {
	return &registration{
		addr:     addr,
		conn:     conn,
		engine:   engine,
		logger:   log.With().Str("module", "signaling.client").Str("address", string(addr)).Logger(),
		events:   make(chan core.RegistrationEvent, 8),
		incoming: make(chan core.IncomingDial, 8),
		done:     make(chan struct{}),
		pending:  make(map[string]*pendingDial),
		calls:    make(map[string]*call),
	}
}

func (r *registration) Address() domain.Address               { return r.addr }
func (r *registration) Events() <-chan core.RegistrationEvent { return r.events }
func (r *registration) Incoming() <-chan core.IncomingDial    { return r.incoming }

func (r *registration) Dial(ctx context.Context, remote domain.Address, local core.LocalStream) (core.Call, error) {
	if r.isClosed() {
		return nil, domain.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session, offer, err := r.engine.Offer(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("%w: creating offer: %w", domain.ErrNegotiation, err)
	}

	id := uuid.NewString()
	p := &pendingDial{remote: remote, session: session, result: make(chan dialResult, 1)}
	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()

	if err := r.conn.Send(Message{Type: TypeDial, CallID: id, To: remote, SDP: offer}); err != nil {
		r.takePending(id)
		session.Close()
		return nil, fmt.Errorf("%w: sending offer: %w", domain.ErrNegotiation, err)
	}

	var abort error
	select {
	case res := <-p.result:
		if res.err != nil {
			session.Close()
			return nil, res.err
		}
		return res.call, nil
	case <-ctx.Done():
		abort = ctx.Err()
	case <-r.done:
		abort = domain.ErrSessionClosed
	}

	if r.takePending(id) != nil {
		session.Close()
		return nil, abort
	}
	// dial_ok raced with the abort; the call already exists.
	if res := <-p.result; res.call != nil {
		res.call.Close()
	} else {
		session.Close()
	}
	return nil, abort
}

func (r *registration) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		calls := make([]*call, 0, len(r.calls))
		for _, c := range r.calls {
			calls = append(calls, c)
		}
		r.mu.Unlock()
		for _, c := range calls {
			c.shutdown(true)
		}
		r.conn.Close()
		r.logger.Info().Msg("registration closed")
	})
	return nil
}

func (r *registration) isClosed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *registration) readLoop() {
	defer r.connLost()
	for msg := range r.conn.Receive() {
		r.dispatch(msg)
	}
}

func (r *registration) dispatch(msg Message) {
	switch msg.Type {
	case TypeRegistered:
		r.emit(core.RegistrationEvent{Kind: core.RegistrationReady})
	case TypeError:
		err := msg.Code.Err()
		if msg.Reason != "" {
			err = fmt.Errorf("%w (%s)", err, msg.Reason)
		}
		if msg.CallID == "" {
			r.emit(core.RegistrationEvent{Kind: core.RegistrationError, Err: err})
			return
		}
		r.failCall(msg.CallID, err)
	case TypeDialOK:
		r.resolvePending(msg.CallID)
	case TypeIncoming:
		r.offerIncoming(msg)
	case TypeAnswer:
		r.applyAnswer(msg)
	case TypeHangup:
		if c, ok := r.lookupCall(msg.CallID); ok {
			c.terminate(core.CallEvent{Kind: core.CallClosed, Err: domain.ErrRemoteClosed}, false)
		}
	case TypePong:
	default:
		r.logger.Warn().Str("type", string(msg.Type)).Msg("unknown signal")
	}
}

func (r *registration) connLost() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingDial)
	r.mu.Unlock()
	for _, p := range pending {
		p.result <- dialResult{err: fmt.Errorf("%w: signaling connection lost", domain.ErrNegotiation)}
	}
	if !r.isClosed() {
		r.logger.Warn().Msg("signaling connection lost")
		r.emit(core.RegistrationEvent{
			Kind: core.RegistrationError,
			Err:  fmt.Errorf("%w: signaling connection lost", domain.ErrRegistration),
		})
	}
}

func (r *registration) emit(ev core.RegistrationEvent) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *registration) takePending(id string) *pendingDial {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

func (r *registration) resolvePending(id string) {
	p := r.takePending(id)
	if p == nil {
		return
	}
	c := newCall(id, p.remote, r, p.session)
	r.track(c)
	p.result <- dialResult{call: c}
}

func (r *registration) failCall(id string, err error) {
	if p := r.takePending(id); p != nil {
		p.result <- dialResult{err: err}
		return
	}
	if c, ok := r.lookupCall(id); ok {
		c.terminate(core.CallEvent{Kind: core.CallError, Err: err}, false)
	}
}

func (r *registration) applyAnswer(msg Message) {
	c, ok := r.lookupCall(msg.CallID)
	if !ok {
		r.logger.Debug().Str("call_id", msg.CallID).Msg("answer for unknown call")
		return
	}
	if err := c.session.ApplyAnswer(msg.SDP); err != nil {
		c.terminate(core.CallEvent{
			Kind: core.CallError,
			Err:  fmt.Errorf("%w: applying answer: %w", domain.ErrNegotiation, err),
		}, true)
	}
}

func (r *registration) offerIncoming(msg Message) {
	d := &incomingDial{id: msg.CallID, from: msg.From, offer: msg.SDP, reg: r}
	select {
	case r.incoming <- d:
	case <-r.done:
	}
}

func (r *registration) track(c *call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.id] = c
}

func (r *registration) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

func (r *registration) lookupCall(id string) (*call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	return c, ok
}

func (r *registration) send(msg Message) {
	if err := r.conn.Send(msg); err != nil {
		r.logger.Debug().Err(err).Str("type", string(msg.Type)).Msg("send failed")
	}
}

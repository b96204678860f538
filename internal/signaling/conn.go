package signaling

import (
	"errors"
	"sync"
)

var ErrConnClosed = errors.New("signaling connection closed")

// Conn is a bidirectional message pipe. Receive is closed once the
// connection ends, from either side.
type Conn interface {
	Send(Message) error
	Receive() <-chan Message
	Close() error
}

// Pipe returns two connected in-process Conns. Closing either end closes
// both.
func Pipe() (Conn, Conn) {
	ab := make(chan Message, 32)
	ba := make(chan Message, 32)
	shared := &pipeState{done: make(chan struct{})}
	a := &pipeConn{in: ba, out: ab, state: shared}
	b := &pipeConn{in: ab, out: ba, state: shared}
	a.recv = a.forward()
	b.recv = b.forward()
	return a, b
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	in    chan Message
	out   chan Message
	recv  chan Message
	state *pipeState
}

// forward copies in to a private channel so Receive can be closed when
// the pipe ends without closing a channel the peer may still send on.
func (p *pipeConn) forward() chan Message {
	recv := make(chan Message)
	go func() {
		defer close(recv)
		for {
			select {
			case <-p.state.done:
				return
			case msg := <-p.in:
				select {
				case recv <- msg:
				case <-p.state.done:
					return
				}
			}
		}
	}()
	return recv
}

func (p *pipeConn) Send(msg Message) error {
	select {
	case <-p.state.done:
		return ErrConnClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.state.done:
		return ErrConnClosed
	}
}

func (p *pipeConn) Receive() <-chan Message { return p.recv }

func (p *pipeConn) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}

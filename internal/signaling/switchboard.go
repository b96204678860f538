package signaling

import (
	"context"
	"sync"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type pairKey struct{ lo, hi domain.Address }

func pairOf(a, b domain.Address) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type callEntry struct {
	ID         string
	Caller     domain.Address
	Callee     domain.Address
	CallerConn Conn
	CalleeConn Conn
	Answered   bool
}

func (e *callEntry) other(conn Conn) Conn {
	if conn == e.CallerConn {
		return e.CalleeConn
	}
	return e.CallerConn
}

// Switchboard routes signaling messages between registered connections.
// It is the server side of the protocol; one Serve call per connection.
type Switchboard struct {
	registry *Registry
	limiter  *DialRateLimiter

	mu    sync.Mutex
	calls map[string]*callEntry
	pairs map[pairKey]string
}

// NewSwitchboard creates a switchboard. limiter may be nil.
func NewSwitchboard(registry *Registry, limiter *DialRateLimiter) *Switchboard {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Switchboard{
		registry: registry,
		limiter:  limiter,
		calls:    make(map[string]*callEntry),
		pairs:    make(map[pairKey]string),
	}
}

// Serve handles messages from conn until it closes or ctx is done. On exit
// conn is closed, its address released and its calls hung up.
func (s *Switchboard) Serve(ctx context.Context, conn Conn) {
	var addr domain.Address
	defer func() {
		conn.Close()
		s.release(addr, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Receive():
			if !ok {
				return
			}
			addr = s.handle(conn, addr, msg)
		}
	}
}

// LiveCalls reports the number of calls currently tracked.
func (s *Switchboard) LiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Switchboard) handle(conn Conn, addr domain.Address, msg Message) domain.Address {
	logger := log.With().Str("module", "signaling.switchboard").Str("address", string(addr)).Logger()

	if msg.Type == TypeRegister {
		return s.handleRegister(conn, addr, msg, &logger)
	}
	if msg.Type == TypePing {
		s.send(conn, Message{Type: TypePong}, &logger)
		return addr
	}
	if addr == "" {
		s.send(conn, errorMessage(msg.CallID, CodeNotRegistered, "register first"), &logger)
		return addr
	}

	switch msg.Type {
	case TypeDial:
		s.handleDial(conn, addr, msg, &logger)
	case TypeAnswer:
		s.handleAnswer(conn, addr, msg, &logger)
	case TypeReject:
		s.handleReject(conn, addr, msg, &logger)
	case TypeHangup:
		s.handleHangup(conn, msg, &logger)
	default:
		logger.Warn().Str("type", string(msg.Type)).Msg("unknown signal")
		s.send(conn, errorMessage(msg.CallID, CodeBadRequest, "unknown message type"), &logger)
	}
	return addr
}

func (s *Switchboard) handleRegister(conn Conn, addr domain.Address, msg Message, logger *zerolog.Logger) domain.Address {
	if msg.Address == "" {
		s.send(conn, errorMessage("", CodeBadRequest, "empty address"), logger)
		return addr
	}
	if addr != "" && addr != msg.Address {
		s.release(addr, conn)
	}

	if previous := s.registry.Bind(msg.Address, conn); previous != nil {
		logger.Info().Str("new_address", string(msg.Address)).Msg("replacing stale registration")
		s.send(previous, errorMessage("", CodeAddressRegistered, "superseded by a newer registration"), logger)
		s.send(conn, errorMessage("", CodeAddressRegistered, "replaced a stale registration"), logger)
		s.hangUp(previous, logger)
	}
	s.send(conn, Message{Type: TypeRegistered, Address: msg.Address}, logger)
	return msg.Address
}

func (s *Switchboard) handleDial(conn Conn, addr domain.Address, msg Message, logger *zerolog.Logger) {
	if msg.CallID == "" || msg.To == "" || msg.To == addr {
		s.send(conn, errorMessage(msg.CallID, CodeBadRequest, "dial needs call_id and a remote address"), logger)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(addr) {
		s.send(conn, errorMessage(msg.CallID, CodeRateLimited, "too many dial attempts"), logger)
		return
	}
	callee, ok := s.registry.Lookup(msg.To)
	if !ok {
		logger.Debug().Str("to", string(msg.To)).Msg("dial: peer unavailable")
		s.send(conn, errorMessage(msg.CallID, CodePeerUnavailable, "remote address not registered"), logger)
		return
	}

	key := pairOf(addr, msg.To)
	s.mu.Lock()
	if _, dup := s.calls[msg.CallID]; dup {
		s.mu.Unlock()
		s.send(conn, errorMessage(msg.CallID, CodeBadRequest, "duplicate call id"), logger)
		return
	}
	if live, busy := s.pairs[key]; busy {
		s.mu.Unlock()
		logger.Debug().Str("to", string(msg.To)).Str("live_call", live).Msg("dial: pair busy")
		s.send(conn, errorMessage(msg.CallID, CodeBusy, "a call between these parties is in progress"), logger)
		return
	}
	entry := &callEntry{
		ID:         msg.CallID,
		Caller:     addr,
		Callee:     msg.To,
		CallerConn: conn,
		CalleeConn: callee,
	}
	s.calls[msg.CallID] = entry
	s.pairs[key] = msg.CallID
	s.mu.Unlock()

	// dial_ok must reach the caller before the callee can possibly answer.
	s.send(conn, Message{Type: TypeDialOK, CallID: msg.CallID, To: msg.To}, logger)
	if err := callee.Send(Message{Type: TypeIncoming, CallID: msg.CallID, From: addr, SDP: msg.SDP}); err != nil {
		logger.Warn().Err(err).Str("to", string(msg.To)).Msg("dial: forward failed")
		s.drop(msg.CallID)
		s.send(conn, errorMessage(msg.CallID, CodePeerUnavailable, "remote went away"), logger)
		return
	}
	logger.Info().Str("call_id", msg.CallID).Str("to", string(msg.To)).Msg("dial forwarded")
}

func (s *Switchboard) handleAnswer(conn Conn, addr domain.Address, msg Message, logger *zerolog.Logger) {
	s.mu.Lock()
	entry, ok := s.calls[msg.CallID]
	if ok && entry.CalleeConn == conn {
		entry.Answered = true
	}
	s.mu.Unlock()
	if !ok || entry.CalleeConn != conn {
		s.send(conn, errorMessage(msg.CallID, CodeUnknownCall, "no such pending call"), logger)
		return
	}
	if err := entry.CallerConn.Send(Message{Type: TypeAnswer, CallID: msg.CallID, From: addr, SDP: msg.SDP}); err != nil {
		logger.Warn().Err(err).Str("call_id", msg.CallID).Msg("answer: caller went away")
		s.drop(msg.CallID)
		s.send(conn, Message{Type: TypeHangup, CallID: msg.CallID}, logger)
		return
	}
	logger.Info().Str("call_id", msg.CallID).Msg("answer forwarded")
}

func (s *Switchboard) handleReject(conn Conn, addr domain.Address, msg Message, logger *zerolog.Logger) {
	entry, ok := s.lookup(msg.CallID)
	if !ok || entry.CalleeConn != conn {
		return
	}
	s.drop(msg.CallID)
	code := msg.Code
	if code == "" {
		code = CodeRejected
	}
	s.send(entry.CallerConn, errorMessage(msg.CallID, code, msg.Reason), logger)
	logger.Info().Str("call_id", msg.CallID).Str("code", string(code)).Msg("call rejected")
}

func (s *Switchboard) handleHangup(conn Conn, msg Message, logger *zerolog.Logger) {
	entry, ok := s.lookup(msg.CallID)
	if !ok || (entry.CallerConn != conn && entry.CalleeConn != conn) {
		return
	}
	s.drop(msg.CallID)
	s.send(entry.other(conn), Message{Type: TypeHangup, CallID: msg.CallID}, logger)
	logger.Info().Str("call_id", msg.CallID).Msg("call hung up")
}

// release unregisters addr if conn still owns it and hangs up every call
// conn takes part in.
func (s *Switchboard) release(addr domain.Address, conn Conn) {
	if addr != "" && s.registry.Unbind(addr, conn) && s.limiter != nil {
		s.limiter.Forget(addr)
	}
	logger := log.With().Str("module", "signaling.switchboard").Str("address", string(addr)).Logger()
	s.hangUp(conn, &logger)
}

// hangUp forgets every call conn takes part in and sends hangup to the
// other party of each.
func (s *Switchboard) hangUp(conn Conn, logger *zerolog.Logger) {
	var orphaned []*callEntry
	s.mu.Lock()
	for id, entry := range s.calls {
		if entry.CallerConn != conn && entry.CalleeConn != conn {
			continue
		}
		delete(s.calls, id)
		delete(s.pairs, pairOf(entry.Caller, entry.Callee))
		orphaned = append(orphaned, entry)
	}
	s.mu.Unlock()

	for _, entry := range orphaned {
		logger.Info().Str("call_id", entry.ID).Msg("hanging up orphaned call")
		s.send(entry.other(conn), Message{Type: TypeHangup, CallID: entry.ID}, logger)
	}
}

func (s *Switchboard) lookup(callID string) (*callEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.calls[callID]
	return entry, ok
}

func (s *Switchboard) drop(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.calls[callID]; ok {
		delete(s.calls, callID)
		delete(s.pairs, pairOf(entry.Caller, entry.Callee))
	}
}

func (s *Switchboard) send(conn Conn, msg Message, logger *zerolog.Logger) {
	if err := conn.Send(msg); err != nil {
		logger.Debug().Err(err).Str("type", string(msg.Type)).Msg("send failed")
	}
}

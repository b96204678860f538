package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/signaling"
)

// FakeEngine negotiates without any media. The session description is the
// local stream id, so each side's remote stream id equals the other side's
// local stream id.
type FakeEngine struct {
	// OfferErr and AnswerErr fail the respective step.
	OfferErr  error
	AnswerErr error
	// Silent suppresses the remote stream event, as if ICE never completed.
	Silent bool
	// RTT is reported through core.QualitySource when non-zero.
	RTT time.Duration

	mu       sync.Mutex
	sessions []*FakeSession
	offers   int
}

var _ signaling.Engine = (*FakeEngine)(nil)

const (
	offerPrefix  = "offer:"
	answerPrefix = "answer:"
)

func (e *FakeEngine) Offer(ctx context.Context, local core.LocalStream) (signaling.MediaSession, string, error) {
	e.mu.Lock()
	e.offers++
	e.mu.Unlock()
	if e.OfferErr != nil {
		return nil, "", e.OfferErr
	}
	return e.newSession(), offerPrefix + local.ID(), nil
}

// Offers counts outbound dial attempts that reached the engine.
func (e *FakeEngine) Offers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers
}

func (e *FakeEngine) Answer(ctx context.Context, offer string, local core.LocalStream) (signaling.MediaSession, string, error) {
	if e.AnswerErr != nil {
		return nil, "", e.AnswerErr
	}
	remote, ok := strings.CutPrefix(offer, offerPrefix)
	if !ok {
		return nil, "", errors.New("fake engine: malformed offer")
	}
	s := e.newSession()
	s.deliver(remote)
	return s, answerPrefix + local.ID(), nil
}

func (e *FakeEngine) newSession() *FakeSession {
	s := &FakeSession{
		silent: e.Silent,
		rtt:    e.RTT,
		events: make(chan core.CallEvent, 4),
		closed: make(chan struct{}),
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s
}

// Sessions returns every session created so far.
func (e *FakeEngine) Sessions() []*FakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeSession(nil), e.sessions...)
}

// OpenSessions counts sessions that have not been closed.
func (e *FakeEngine) OpenSessions() int {
	n := 0
	for _, s := range e.Sessions() {
		if !s.IsClosed() {
			n++
		}
	}
	return n
}

type FakeSession struct {
	silent bool
	rtt    time.Duration
	events chan core.CallEvent

	once   sync.Once
	closed chan struct{}
}

func (s *FakeSession) ApplyAnswer(sdp string) error {
	remote, ok := strings.CutPrefix(sdp, answerPrefix)
	if !ok {
		return errors.New("fake engine: malformed answer")
	}
	s.deliver(remote)
	return nil
}

func (s *FakeSession) deliver(remote string) {
	if s.silent {
		return
	}
	s.events <- core.CallEvent{Kind: core.CallRemoteStream, Stream: remoteStream(remote)}
}

// Fail injects a media-path failure.
func (s *FakeSession) Fail(err error) {
	select {
	case s.events <- core.CallEvent{Kind: core.CallError, Err: err}:
	case <-s.closed:
	}
}

func (s *FakeSession) Events() <-chan core.CallEvent { return s.events }

func (s *FakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *FakeSession) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *FakeSession) RoundTrip() (time.Duration, bool) {
	return s.rtt, s.rtt > 0
}

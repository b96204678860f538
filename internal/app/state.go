package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

const (
	QualityPoor = 1
	QualityFair = 2
	QualityGood = 3
)

// Snapshot is the observable state of one session.
type Snapshot struct {
	Phase            domain.Phase `json:"phase"`
	Status           string       `json:"statusText"`
	ConnectedSeconds int          `json:"connectedSeconds"`
	AudioEnabled     bool         `json:"audioEnabled"`
	VideoEnabled     bool         `json:"videoEnabled"`
	Quality          int          `json:"connectionQuality"`
	RemoteStream     string       `json:"remoteStream,omitempty"`
}

// StateStore holds the session state. The orchestrator is its only writer;
// everyone else reads snapshots or subscribes.
type StateStore struct {
	mu     sync.RWMutex
	snap   Snapshot
	remote core.RemoteStream
	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

func NewStateStore() *StateStore {
	return &StateStore{
		snap: Snapshot{Phase: domain.PhaseIdle, Quality: QualityGood},
		subs: make(map[int]chan Snapshot),
	}
}

func (s *StateStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// RemoteStream returns the bound remote stream, or nil.
func (s *StateStore) RemoteStream() core.RemoteStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

// SetPhase moves to p with the given status text. Illegal transitions are
// refused and leave the state untouched.
func (s *StateStore) SetPhase(p domain.Phase, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Phase.CanTransition(p) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.snap.Phase, p)
	}
	s.snap.Phase = p
	s.snap.Status = status
	s.publishLocked()
	return nil
}

func (s *StateStore) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Status == status {
		return
	}
	s.snap.Status = status
	s.publishLocked()
}

// Tick adds one second of connected time. Outside Connected the counter
// is frozen and Tick reports false.
func (s *StateStore) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Phase != domain.PhaseConnected {
		return false
	}
	s.snap.ConnectedSeconds++
	s.publishLocked()
	return true
}

func (s *StateStore) SetMedia(m domain.MediaState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AudioEnabled = m.AudioEnabled
	s.snap.VideoEnabled = m.VideoEnabled
	s.publishLocked()
}

func (s *StateStore) SetQuality(q int) {
	q = min(max(q, QualityPoor), QualityGood)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Quality == q {
		return
	}
	s.snap.Quality = q
	s.publishLocked()
}

// BindRemote replaces the bound remote stream.
func (s *StateStore) BindRemote(r core.RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = r
	s.snap.RemoteStream = ""
	if r != nil {
		s.snap.RemoteStream = r.ID()
	}
	s.publishLocked()
}

func (s *StateStore) ClearRemote() { s.BindRemote(nil) }

// Subscribe returns a channel that always holds the latest snapshot;
// intermediate ones are dropped for slow readers. The current snapshot is
// delivered immediately. cancel is idempotent.
func (s *StateStore) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.snap
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription once the session is over.
func (s *StateStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *StateStore) publishLocked() {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snap:
		default:
		}
	}
}

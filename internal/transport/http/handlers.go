// Package http serves the call agent's local status API: the current
// session state as JSON and as a Server-Sent Events stream, plus the
// end-call and media toggle controls.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/donovanhide/eventsource"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const stateChannel = "state"

// Controls is the part of a running session the status API drives.
type Controls interface {
	Snapshot() app.Snapshot
	Subscribe() (<-chan app.Snapshot, func())
	End()
	SetAudioEnabled(bool) domain.MediaState
	SetVideoEnabled(bool) domain.MediaState
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type snapshotEvent struct {
	id   int
	data string
}

func (e snapshotEvent) Id() string    { return strconv.Itoa(e.id) }
func (e snapshotEvent) Event() string { return stateChannel }
func (e snapshotEvent) Data() string  { return e.data }

// StatusServer publishes session snapshots to SSE subscribers. A new
// subscriber first receives the latest snapshot.
type StatusServer struct {
	session Controls
	events  *eventsource.Server

	mu     sync.Mutex
	latest snapshotEvent
}

func NewStatusServer(session Controls) *StatusServer {
	s := &StatusServer{session: session, events: eventsource.NewServer()}
	s.events.ReplayAll = true
	s.latest = s.encode(0, session.Snapshot())
	s.events.Register(stateChannel, s)
	return s
}

// Replay implements eventsource.Repository with the latest snapshot.
func (s *StatusServer) Replay(channel, id string) chan eventsource.Event {
	out := make(chan eventsource.Event, 1)
	s.mu.Lock()
	out <- s.latest
	s.mu.Unlock()
	close(out)
	return out
}

// Run publishes snapshots until the session is over or ctx is done.
func (s *StatusServer) Run(ctx context.Context) {
	updates, cancel := s.session.Subscribe()
	defer cancel()
	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			ev := s.encode(seq, snap)
			s.mu.Lock()
			s.latest = ev
			s.mu.Unlock()
			s.events.Publish([]string{stateChannel}, ev)
		}
	}
}

func (s *StatusServer) Close() { s.events.Close() }

func (s *StatusServer) encode(seq int, snap app.Snapshot) snapshotEvent {
	b, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("marshal snapshot")
	}
	return snapshotEvent{id: seq, data: string(b)}
}

func (s *StatusServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/state", s.handleState)
	router.GET("/events", gin.WrapF(s.events.Handler(stateChannel)))
	router.POST("/end", s.handleEnd)
	router.POST("/audio", s.handleToggle(s.session.SetAudioEnabled))
	router.POST("/video", s.handleToggle(s.session.SetVideoEnabled))

	return router
}

func (s *StatusServer) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Snapshot())
}

func (s *StatusServer) handleEnd(c *gin.Context) {
	log.Info().Str("module", "transport.http").Msg("end requested")
	s.session.End()
	c.JSON(http.StatusOK, s.session.Snapshot())
}

func (s *StatusServer) handleToggle(set func(bool) domain.MediaState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid enabled"})
			return
		}
		c.JSON(http.StatusOK, set(*req.Enabled))
	}
}

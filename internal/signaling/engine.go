package signaling

import (
	"context"

	"github.com/dkeye/televisit/internal/core"
)

// Engine negotiates the media path of one call. Offers and answers are
// complete session descriptions; no candidate trickling happens over the
// signaling channel.
type Engine interface {
	Offer(ctx context.Context, local core.LocalStream) (MediaSession, string, error)
	Answer(ctx context.Context, offer string, local core.LocalStream) (MediaSession, string, error)
}

// MediaSession is the engine-side state of one call. Events reports the
// remote stream and media-path failures; the signaling layer adds remote
// hangups on top.
type MediaSession interface {
	ApplyAnswer(sdp string) error
	Events() <-chan core.CallEvent
	Close() error
}

// Package signaling implements the negotiation side channel: a small JSON
// message protocol, the server-side Switchboard that routes it between
// registered addresses, and the client-side transport that turns it into
// core.SignalTransport.
//
// A call is negotiated in one round trip (vanilla ICE): the caller sends a
// complete offer in "dial", the switchboard forwards it as "incoming", and
// the callee replies with a complete "answer". Either side ends a call with
// "hangup". The switchboard keeps at most one live call per address pair,
// so two parties dialing each other at the same moment converge on a
// single call.
package signaling

import (
	"errors"
	"fmt"

	"github.com/dkeye/televisit/internal/domain"
)

type MessageType string

const (
	TypeRegister   MessageType = "register"
	TypeRegistered MessageType = "registered"
	TypeDial       MessageType = "dial"
	TypeDialOK     MessageType = "dial_ok"
	TypeIncoming   MessageType = "incoming"
	TypeAnswer     MessageType = "answer"
	TypeReject     MessageType = "reject"
	TypeHangup     MessageType = "hangup"
	TypeError      MessageType = "error"
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
)

type ErrorCode string

const (
	CodePeerUnavailable   ErrorCode = "peer_unavailable"
	CodeAddressRegistered ErrorCode = "address_registered"
	CodeNotRegistered     ErrorCode = "not_registered"
	CodeBusy              ErrorCode = "busy"
	CodeRejected          ErrorCode = "rejected"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeUnknownCall       ErrorCode = "unknown_call"
	CodeBadRequest        ErrorCode = "bad_request"
)

// Message is the single envelope for every signal. Unused fields are
// omitted on the wire.
type Message struct {
	Type    MessageType    `json:"type"`
	Address domain.Address `json:"address,omitempty"`
	CallID  string         `json:"call_id,omitempty"`
	From    domain.Address `json:"from,omitempty"`
	To      domain.Address `json:"to,omitempty"`
	SDP     string         `json:"sdp,omitempty"`
	Code    ErrorCode      `json:"code,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

func errorMessage(callID string, code ErrorCode, reason string) Message {
	return Message{Type: TypeError, CallID: callID, Code: code, Reason: reason}
}

// Err maps a wire error code onto the domain error classes.
func (c ErrorCode) Err() error {
	switch c {
	case CodePeerUnavailable:
		return domain.ErrPeerUnavailable
	case CodeAddressRegistered:
		return domain.ErrAddressRegistered
	case CodeNotRegistered:
		return fmt.Errorf("%w: address not registered", domain.ErrRegistration)
	case CodeBusy:
		return domain.ErrBusy
	case CodeRejected:
		return fmt.Errorf("%w: rejected by remote party", domain.ErrNegotiation)
	case CodeRateLimited:
		return fmt.Errorf("%w: rate limited", domain.ErrNegotiation)
	case CodeUnknownCall:
		return fmt.Errorf("%w: unknown call", domain.ErrNegotiation)
	default:
		return fmt.Errorf("%w: %s", domain.ErrNegotiation, string(c))
	}
}

// CodeOf is the inverse of Err for errors a callee reports in "reject".
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrBusy):
		return CodeBusy
	case errors.Is(err, domain.ErrPeerUnavailable):
		return CodePeerUnavailable
	default:
		return CodeRejected
	}
}

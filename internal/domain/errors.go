package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice is the only fatal, non-retryable error class.
	ErrDevice           = errors.New("media device error")
	ErrPermissionDenied = &deviceError{msg: "media permission denied"}
	ErrNoDevice         = &deviceError{msg: "no media device available"}

	ErrRelayFetch        = errors.New("relay credential fetch failed")
	ErrPeerUnavailable   = errors.New("peer unavailable")
	ErrAddressRegistered = errors.New("address already registered")
	ErrRegistration      = errors.New("registration failed")
	ErrNegotiation       = errors.New("negotiation failed")
	ErrBusy              = fmt.Errorf("%w: call already in progress between peers", ErrNegotiation)
	ErrRemoteClosed      = errors.New("closed by remote party")
	ErrSessionClosed     = errors.New("session closed")
)

type deviceError struct{ msg string }

func (e *deviceError) Error() string        { return e.msg }
func (e *deviceError) Is(target error) bool { return target == ErrDevice }

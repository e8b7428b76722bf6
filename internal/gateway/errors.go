package gateway

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgelink/internal/protocol"
)

var (
	ErrFatalClose         = errors.New("gateway: fatal close")
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")
	ErrNotConnected       = errors.New("gateway: not connected")
	ErrReservedOpcode     = errors.New("gateway: opcode reserved for the session")
	ErrTokenRequired      = errors.New("gateway: token required")
	ErrEndpointRequired   = errors.New("gateway: endpoint source required")
	ErrAlreadyRunning     = errors.New("gateway: client already running")
	ErrHandshakeTimeout   = errors.New("gateway: hello not received in time")
)

// FatalError is a close the service will never accept a reconnect after.
type FatalError struct {
	Code   protocol.CloseCode
	Reason string
}

func (e *FatalError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gateway: fatal close %d (%s)", int(e.Code), e.Code)
	}
	return fmt.Sprintf("gateway: fatal close %d (%s): %s", int(e.Code), e.Code, e.Reason)
}

func (e *FatalError) Unwrap() error {
	return ErrFatalClose
}

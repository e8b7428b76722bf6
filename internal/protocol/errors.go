package protocol

import "errors"

var (
	ErrMalformedFrame     = errors.New("protocol: malformed frame")
	ErrUnexpectedOpcode   = errors.New("protocol: unexpected opcode")
	ErrMissingSequence    = errors.New("protocol: dispatch frame missing sequence")
	ErrMissingEventName   = errors.New("protocol: dispatch frame missing event name")
	ErrInvalidGatewayURL  = errors.New("protocol: invalid gateway url")
	ErrInvalidHelloPeriod = errors.New("protocol: invalid heartbeat interval")
)

package protocol

import "errors"

var (
	ErrTimeout         = errors.New("protocol: read timeout")
	ErrClosed          = errors.New("protocol: connection closed")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrTruncated       = errors.New("protocol: truncated frame")
)

package constants

import "errors"

// Errors
var (
	ErrSocketClosed        = errors.New("socket closed")
	ErrRoomAttached        = errors.New("room already attached to this socket")
	ErrTransportDestroyed  = errors.New("transport destroyed")
	ErrUnsupportedDocument = errors.New("document does not support replication")
	ErrInvalidURL          = errors.New("invalid websocket url")
	ErrJoinRejected        = errors.New("join rejected by relay")
)

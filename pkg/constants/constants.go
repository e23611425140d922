package constants

import "time"

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

const (
	// Subprotocol is negotiated on the WebSocket handshake between a client
	// Socket and the relay.
	Subprotocol = "collab.cbor"

	// CloseMessageCode is the WebSocket close code sent on a normal close.
	CloseMessageCode = 1000

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// WebsocketPath is where the relay accepts WebSocket upgrades.
	WebsocketPath = "/ws"
)

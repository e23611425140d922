// Package protocol defines the messages exchanged between a client Socket and
// the relay. Every WebSocket binary frame carries exactly one encoded
// Message, CBOR unless both ends are configured with the JSON codec.
package protocol

import (
	"errors"
	"fmt"

	"github.com/collabkit/channels/internal/codec"
)

type Type uint8

const (
	// TypeJoin asks the relay to attach the sender to Room. Params carries
	// the join parameters.
	TypeJoin Type = iota + 1
	// TypeJoined acknowledges a join.
	TypeJoined
	// TypeSync carries the room's full update log after a join.
	TypeSync
	// TypeUpdate carries one document update. Sent both ways.
	TypeUpdate
	// TypeAwareness carries one participant's presence state. A nil
	// Presence means the participant left.
	TypeAwareness
	// TypeLeave detaches the sender from Room.
	TypeLeave
	// TypeError reports a rejected request for Room.
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeJoin:
		return "join"
	case TypeJoined:
		return "joined"
	case TypeSync:
		return "sync"
	case TypeUpdate:
		return "update"
	case TypeAwareness:
		return "awareness"
	case TypeLeave:
		return "leave"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

var ErrInvalidMessage = errors.New("invalid message")

type Message struct {
	Type     Type           `cbor:"t"`
	Room     string         `cbor:"r"`
	Params   map[string]any `cbor:"p,omitempty"`
	Update   []byte         `cbor:"u,omitempty"`
	State    [][]byte       `cbor:"s,omitempty"`
	ClientID string         `cbor:"c,omitempty"`
	Presence map[string]any `cbor:"a,omitempty"`
	Reason   string         `cbor:"e,omitempty"`
}

// Validate reports whether m is well formed enough to route.
func (m *Message) Validate() error {
	if m.Type < TypeJoin || m.Type > TypeError {
		return fmt.Errorf("%w: type %s", ErrInvalidMessage, m.Type)
	}
	if m.Room == "" {
		return fmt.Errorf("%w: %s without room", ErrInvalidMessage, m.Type)
	}
	if m.Type == TypeAwareness && m.ClientID == "" {
		return fmt.Errorf("%w: awareness without client id", ErrInvalidMessage)
	}
	return nil
}

// Codec encodes and decodes whole Messages.
type Codec struct {
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
}

var (
	// Default is the wire codec: canonical CBOR in both directions.
	Default = Codec{Marshaler: codec.CBOR{}, Unmarshaler: codec.CBOR{}}
	// JSON is readable but larger. Both ends of a socket must agree.
	JSON = Codec{Marshaler: codec.JSON{}, Unmarshaler: codec.JSON{}}
)

func (c Codec) Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return c.Marshaler.Marshal(m)
}

func (c Codec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := c.Unmarshaler.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

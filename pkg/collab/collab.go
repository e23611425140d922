// Package collab defines the collaborators a channel entry owns: the
// network Transport bound to one room, the shared Document it synchronizes
// and the Presence store it broadcasts.
//
// Subscription methods return an off function that removes the handler.
// Destroy methods must be safe to call more than once.
package collab

import "context"

// Status is the connection status reported by a Transport.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// StatusEvent is emitted by a Transport whenever its link status changes.
type StatusEvent struct {
	Status Status
}

// JoinParams are opaque parameters forwarded to the remote side when joining
// a room, such as an auth token or a document version.
type JoinParams map[string]any

// Transport is the network channel for a single room.
type Transport interface {
	// Connect starts joining the room. It must not block on the remote side
	// acknowledging the join; progress is reported through OnStatus and
	// OnSynced.
	Connect(ctx context.Context) error

	OnStatus(h func(StatusEvent)) (off func())

	// OnSynced reports whether the initial state exchange has completed.
	OnSynced(h func(synced bool)) (off func())

	Destroy() error
}

// UpdateEvent is emitted by a Document for every applied update.
// Origin identifies who applied it: a Transport for remote updates, nil
// for local edits.
type UpdateEvent struct {
	Update []byte
	Origin any
}

// Document is the shared, replicated state container of a room.
type Document interface {
	OnUpdate(h func(UpdateEvent)) (off func())
	Destroy() error
}

// Presence holds ephemeral per-participant state.
type Presence interface {
	Destroy() error
}

// Opener is a connection handle able to open a Transport for a room.
// The transport is returned unconnected so that the caller can attach
// handlers before calling Connect.
type Opener interface {
	Open(room string, doc Document, presence Presence, params JoinParams) (Transport, error)
}

// ReplicatedDocument is a Document that a Transport can feed remote updates
// into and read local state from.
type ReplicatedDocument interface {
	Document

	// Apply merges an encoded update. The resulting UpdateEvent carries origin.
	Apply(update []byte, origin any) error

	// EncodeState encodes the whole document as a single update.
	EncodeState() ([]byte, error)
}

// PresenceChange describes one participant's presence state changing.
// A nil State means the participant left or expired.
type PresenceChange struct {
	ClientID string
	State    map[string]any
	Origin   any
}

// Awareness is a Presence store that a Transport can broadcast and update.
type Awareness interface {
	Presence

	ClientID() string
	LocalState() map[string]any
	ApplyRemote(clientID string, state map[string]any, origin any)
	OnChange(h func(PresenceChange)) (off func())
}

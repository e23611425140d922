package gorillaws

import (
	"context"
	"fmt"
	"sync"

	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/constants"
	"github.com/collabkit/channels/pkg/document"
	"github.com/collabkit/channels/pkg/emitter"
	"github.com/collabkit/channels/pkg/protocol"
)

// Transport is one room attached to a Socket. It forwards local document
// updates and presence changes to the relay and applies remote ones with
// itself as origin.
type Transport struct {
	socket    *Socket
	room      string
	doc       collab.ReplicatedDocument
	awareness collab.Awareness
	params    collab.JoinParams

	statusEvents *emitter.Emitter[collab.StatusEvent]
	syncedEvents *emitter.Emitter[bool]

	mu        sync.Mutex
	status    collab.Status
	synced    bool
	joining   bool
	destroyed bool
	rejected  error
	offs      []func()
}

var _ collab.Transport = (*Transport)(nil)

func newTransport(s *Socket, room string, doc collab.ReplicatedDocument, presence collab.Presence, params collab.JoinParams) *Transport {
	t := &Transport{
		socket:       s,
		room:         room,
		doc:          doc,
		params:       params,
		status:       collab.StatusDisconnected,
		statusEvents: emitter.New[collab.StatusEvent](),
		syncedEvents: emitter.New[bool](),
	}
	if a, ok := presence.(collab.Awareness); ok {
		t.awareness = a
	}
	return t
}

func (t *Transport) Room() string {
	return t.room
}

func (t *Transport) Status() collab.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transport) Synced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced
}

// Err reports why the relay refused this room, or nil.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejected
}

func (t *Transport) OnStatus(h func(collab.StatusEvent)) func() {
	return t.statusEvents.On(h)
}

func (t *Transport) OnSynced(h func(bool)) func() {
	return t.syncedEvents.On(h)
}

// Connect sends the join request. It returns once the request is written;
// the relay's answer arrives as status and synced events.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return constants.ErrTransportDestroyed
	}
	if t.joining {
		t.mu.Unlock()
		return nil
	}
	t.joining = true
	t.offs = append(t.offs, t.doc.OnUpdate(t.forwardUpdate))
	if t.awareness != nil {
		t.offs = append(t.offs, t.awareness.OnChange(t.forwardPresence))
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t.setStatus(collab.StatusConnecting)

	join := &protocol.Message{Type: protocol.TypeJoin, Room: t.room, Params: t.params}
	if t.awareness != nil {
		join.ClientID = t.awareness.ClientID()
	}
	if err := t.socket.write(join); err != nil {
		t.setStatus(collab.StatusDisconnected)
		return fmt.Errorf("join %s: %w", t.room, err)
	}
	return nil
}

// Destroy leaves the room, detaches from the socket and drops all handlers.
// It is safe to call more than once.
func (t *Transport) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.destroyed = true
	joined := t.joining
	offs := t.offs
	t.offs = nil
	t.mu.Unlock()

	for _, off := range offs {
		off()
	}
	t.socket.detach(t.room, t)

	var err error
	if joined {
		err = t.socket.write(&protocol.Message{Type: protocol.TypeLeave, Room: t.room})
		if t.socket.Err() != nil {
			// The relay drops members of lost connections on its own.
			err = nil
		}
	}

	t.setStatus(collab.StatusDisconnected)
	t.statusEvents.Close()
	t.syncedEvents.Close()
	return err
}

func (t *Transport) handle(msg *protocol.Message) {
	if t.isDestroyed() {
		return
	}

	switch msg.Type {
	case protocol.TypeJoined:
		t.setStatus(collab.StatusConnected)
		t.sendLocalPresence()
	case protocol.TypeSync:
		t.applySync(msg.State)
	case protocol.TypeUpdate:
		if err := t.doc.Apply(msg.Update, t); err != nil {
			t.socket.logger.Error("failed to apply remote update", "room", t.room, "error", err)
		}
	case protocol.TypeAwareness:
		if t.awareness != nil {
			t.awareness.ApplyRemote(msg.ClientID, msg.Presence, t)
		}
	case protocol.TypeError:
		t.socket.logger.Error("relay rejected request", "room", t.room, "reason", msg.Reason)
		t.mu.Lock()
		t.rejected = fmt.Errorf("%w: %s", constants.ErrJoinRejected, msg.Reason)
		t.mu.Unlock()
		t.setSynced(false)
		t.setStatus(collab.StatusDisconnected)
	default:
		t.socket.logger.Debug("unexpected message", "room", t.room, "type", msg.Type.String())
	}
}

// applySync merges the room's update log into the document, then pushes
// local state the room may not have seen yet. The merged update is applied
// even when the log is empty so that the document reports an update from
// this transport.
func (t *Transport) applySync(state [][]byte) {
	merged, err := document.MergeUpdates(state...)
	if err != nil {
		t.socket.logger.Error("failed to merge sync state", "room", t.room, "error", err)
		return
	}
	if err := t.doc.Apply(merged, t); err != nil {
		t.socket.logger.Error("failed to apply sync state", "room", t.room, "error", err)
		return
	}
	t.setSynced(true)

	local, err := t.doc.EncodeState()
	if err != nil {
		t.socket.logger.Error("failed to encode local state", "room", t.room, "error", err)
		return
	}
	if ops, err := document.DecodeUpdate(local); err == nil && len(ops) > 0 {
		t.send(&protocol.Message{Type: protocol.TypeUpdate, Room: t.room, Update: local})
	}
}

func (t *Transport) forwardUpdate(ev collab.UpdateEvent) {
	if ev.Origin == any(t) || !t.isJoined() {
		return
	}
	t.send(&protocol.Message{Type: protocol.TypeUpdate, Room: t.room, Update: ev.Update})
}

func (t *Transport) forwardPresence(ch collab.PresenceChange) {
	if ch.Origin != nil || ch.ClientID != t.awareness.ClientID() || !t.isJoined() {
		return
	}
	t.send(&protocol.Message{Type: protocol.TypeAwareness, Room: t.room, ClientID: ch.ClientID, Presence: ch.State})
}

func (t *Transport) sendLocalPresence() {
	if t.awareness == nil {
		return
	}
	if st := t.awareness.LocalState(); st != nil {
		t.send(&protocol.Message{Type: protocol.TypeAwareness, Room: t.room, ClientID: t.awareness.ClientID(), Presence: st})
	}
}

func (t *Transport) send(m *protocol.Message) {
	if err := t.socket.write(m); err != nil {
		t.socket.logger.Error("failed to send", "room", t.room, "type", m.Type.String(), "error", err)
	}
}

// lost is called by the socket when the connection goes away.
func (t *Transport) lost() {
	t.setSynced(false)
	t.setStatus(collab.StatusDisconnected)
}

func (t *Transport) setStatus(s collab.Status) {
	t.mu.Lock()
	if t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	t.mu.Unlock()

	t.statusEvents.Emit(collab.StatusEvent{Status: s})
}

func (t *Transport) setSynced(v bool) {
	t.mu.Lock()
	if t.synced == v {
		t.mu.Unlock()
		return
	}
	t.synced = v
	t.mu.Unlock()

	t.syncedEvents.Emit(v)
}

func (t *Transport) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

func (t *Transport) isJoined() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == collab.StatusConnected && !t.destroyed
}

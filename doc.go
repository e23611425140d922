// The [channels] package manages real-time collaboration channels while the
// identity of the collaborated-on resource changes.
//
// # Migrations
//
// A [Registry] holds at most one current [Entry] and at most one draining
// Entry. Each Entry bundles a [collab.Transport], a [collab.Document] and a
// [collab.Presence] bound to one room.
//
// [Registry.Migrate] opens a new room and installs it as current. The entry
// it replaces keeps serving in-flight traffic while it drains, and is
// destroyed once the grace period ends or when the next migration needs the
// draining slot. Migrate returns a [Settlement] that finishes when the new
// entry becomes active:
//
//	s, err := reg.Migrate(ctx, socket, "workflow-42@v3", collab.JoinParams{"token": tok})
//	if err != nil {
//		return err
//	}
//	if err := s.Wait(ctx); err != nil {
//		return err // ErrSuperseded, ErrRegistryDestroyed or a connect failure
//	}
//
// # Entry lifecycle
//
// Entries move forward only:
//
//	connecting -> settling -> active -> draining -> destroyed
//
// An entry starts settling when its transport reports it is connected, and
// becomes active once the transport is synced and the document has applied an
// update originating from that transport. A settling entry that does not
// finish within the settle timeout only logs a warning.
//
// # Observing the registry
//
// [Registry.Subscribe] registers a listener invoked on every change.
// Listeners carry no payload; read the state back through
// [Registry.CurrentEntry], [Registry.DrainingEntry], [Registry.IsTransitioning]
// or [Registry.Snapshot].
//
// # Transports
//
// The [github.com/collabkit/channels/pkg/connection/gorillaws] package
// multiplexes rooms over one WebSocket to a [github.com/collabkit/channels/pkg/relay]
// server. Any type implementing [collab.Opener] works with the registry.
package channels

package gorillaws_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabkit/channels"
	"github.com/collabkit/channels/internal/mock"
	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/connection/gorillaws"
	"github.com/collabkit/channels/pkg/constants"
	"github.com/collabkit/channels/pkg/document"
	"github.com/collabkit/channels/pkg/presence"
	"github.com/collabkit/channels/pkg/protocol"
	"github.com/collabkit/channels/pkg/relay"
)

const waitFor = 5 * time.Second

func startRelay(t *testing.T, cfg relay.Config) *relay.Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	server := relay.NewServer(cfg)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *relay.Server) *gorillaws.Socket {
	t.Helper()
	s, err := gorillaws.Dial(context.Background(), server.URL())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

type peer struct {
	doc       *document.Document
	presence  *presence.Presence
	transport *gorillaws.Transport
	statuses  chan collab.Status
	synced    chan bool
}

func join(t *testing.T, s *gorillaws.Socket, room, clientID string) *peer {
	t.Helper()
	p := &peer{
		doc:      document.New(),
		presence: presence.New(presence.Config{ClientID: clientID}),
		statuses: make(chan collab.Status, 16),
		synced:   make(chan bool, 16),
	}
	tr, err := s.Open(room, p.doc, p.presence, collab.JoinParams{"client": clientID})
	require.NoError(t, err)
	p.transport = tr.(*gorillaws.Transport)
	tr.OnStatus(func(ev collab.StatusEvent) { p.statuses <- ev.Status })
	tr.OnSynced(func(v bool) { p.synced <- v })
	require.NoError(t, tr.Connect(context.Background()))
	return p
}

func (p *peer) waitSynced(t *testing.T) {
	t.Helper()
	require.Eventually(t, p.transport.Synced, waitFor, 5*time.Millisecond)
}

func TestDialRejectsNonWebsocketURL(t *testing.T) {
	_, err := gorillaws.Dial(context.Background(), "http://localhost:1/ws")
	require.ErrorIs(t, err, constants.ErrInvalidURL)
}

func TestOpenRequiresReplicatedDocument(t *testing.T) {
	s := dial(t, startRelay(t, relay.Config{}))
	_, err := s.Open("doc", mock.NewDocument(), mock.NewPresence(), nil)
	require.ErrorIs(t, err, constants.ErrUnsupportedDocument)
}

func TestOpenSameRoomTwice(t *testing.T) {
	s := dial(t, startRelay(t, relay.Config{}))

	tr, err := s.Open("doc", document.New(), mock.NewPresence(), nil)
	require.NoError(t, err)
	_, err = s.Open("doc", document.New(), mock.NewPresence(), nil)
	require.ErrorIs(t, err, constants.ErrRoomAttached)

	require.NoError(t, tr.Destroy())
	require.NoError(t, tr.Destroy())
	_, err = s.Open("doc", document.New(), mock.NewPresence(), nil)
	require.NoError(t, err)
}

func TestJoinReportsStatusAndSync(t *testing.T) {
	s := dial(t, startRelay(t, relay.Config{}))
	p := join(t, s, "doc", "alice")

	assert.Equal(t, collab.StatusConnecting, <-p.statuses)
	select {
	case st := <-p.statuses:
		assert.Equal(t, collab.StatusConnected, st)
	case <-time.After(waitFor):
		t.Fatal("no connected status")
	}
	select {
	case v := <-p.synced:
		assert.True(t, v)
	case <-time.After(waitFor):
		t.Fatal("no synced event")
	}
}

func TestDocumentsConverge(t *testing.T) {
	server := startRelay(t, relay.Config{})
	alice := join(t, dial(t, server), "doc", "alice")
	require.NoError(t, alice.doc.Append([]byte("written before joining")))
	alice.waitSynced(t)

	bob := join(t, dial(t, server), "doc", "bob")
	bob.waitSynced(t)
	require.Eventually(t, func() bool { return bob.doc.Len() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, bob.doc.Append([]byte("from bob")))
	require.Eventually(t, func() bool { return alice.doc.Len() == 2 }, waitFor, 5*time.Millisecond)
	assert.ElementsMatch(t, alice.doc.Ops(), bob.doc.Ops())
}

func TestJSONCodecEndToEnd(t *testing.T) {
	server := startRelay(t, relay.Config{Codec: &protocol.JSON})
	dialJSON := func() *gorillaws.Socket {
		s, err := gorillaws.Dial(context.Background(), server.URL(), gorillaws.WithCodec(protocol.JSON))
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.Close(ctx)
		})
		return s
	}

	alice := join(t, dialJSON(), "doc", "alice")
	bob := join(t, dialJSON(), "doc", "bob")
	alice.waitSynced(t)
	bob.waitSynced(t)

	require.NoError(t, alice.doc.Append([]byte("over json")))
	require.Eventually(t, func() bool { return bob.doc.Len() == 1 }, waitFor, 5*time.Millisecond)
}

func TestPresencePropagates(t *testing.T) {
	server := startRelay(t, relay.Config{})
	alice := join(t, dial(t, server), "doc", "alice")
	bob := join(t, dial(t, server), "doc", "bob")
	alice.waitSynced(t)
	bob.waitSynced(t)

	alice.presence.SetLocalState(map[string]any{"cursor": "node-1"})
	require.Eventually(t, func() bool {
		st, ok := bob.presence.States()["alice"]
		return ok && st["cursor"] == "node-1"
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, alice.transport.Destroy())
	require.Eventually(t, func() bool {
		_, ok := bob.presence.States()["alice"]
		return !ok
	}, waitFor, 5*time.Millisecond)
}

func TestLostConnectionDisconnectsTransports(t *testing.T) {
	server := startRelay(t, relay.Config{})
	s := dial(t, server)
	p := join(t, s, "doc", "alice")
	p.waitSynced(t)

	server.DropConnections()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("socket did not notice the lost connection")
	}
	require.ErrorIs(t, s.Err(), constants.ErrSocketClosed)
	require.Equal(t, collab.StatusDisconnected, p.transport.Status())
	require.False(t, p.transport.Synced())

	_, err := s.Open("other", document.New(), mock.NewPresence(), nil)
	require.ErrorIs(t, err, constants.ErrSocketClosed)
	require.NoError(t, p.transport.Destroy())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := dial(t, startRelay(t, relay.Config{}))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	require.ErrorIs(t, s.Err(), constants.ErrSocketClosed)
}

func TestRejectedJoinDisconnects(t *testing.T) {
	server := startRelay(t, relay.Config{
		Authorize: func(string, map[string]any) error { return errors.New("forbidden") },
	})
	p := join(t, dial(t, server), "doc", "alice")

	require.Eventually(t, func() bool {
		return p.transport.Status() == collab.StatusDisconnected
	}, waitFor, 5*time.Millisecond)
	require.False(t, p.transport.Synced())
	require.ErrorIs(t, p.transport.Err(), constants.ErrJoinRejected)
	require.ErrorContains(t, p.transport.Err(), "forbidden")
}

func TestRegistryMigratesOverSocket(t *testing.T) {
	server := startRelay(t, relay.Config{})
	s := dial(t, server)
	reg := channels.New(channels.WithDrainGracePeriod(50 * time.Millisecond))
	defer reg.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	first, err := reg.Migrate(ctx, s, "workflow@v1", collab.JoinParams{"version": 1})
	require.NoError(t, err)
	require.NoError(t, first.Wait(ctx))
	require.Equal(t, channels.StateActive, first.Entry().State())

	second, err := reg.Migrate(ctx, s, "workflow@v2", collab.JoinParams{"version": 2})
	require.NoError(t, err)
	require.True(t, reg.IsTransitioning())
	require.NoError(t, second.Wait(ctx))

	require.Eventually(t, func() bool {
		return first.Entry().State() == channels.StateDestroyed && !reg.IsTransitioning()
	}, waitFor, 5*time.Millisecond)
	require.ElementsMatch(t, []string{"workflow@v2"}, s.Rooms())

	require.Eventually(t, func() bool {
		for _, r := range server.Rooms() {
			if r.Name == "workflow@v1" && r.Members != 0 {
				return false
			}
		}
		return true
	}, waitFor, 5*time.Millisecond)
}

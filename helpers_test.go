package channels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabkit/channels/internal/mock"
	"github.com/collabkit/channels/pkg/clock/clocktest"
	"github.com/collabkit/channels/pkg/collab"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t         *testing.T
	clock     *clocktest.Clock
	opener    *mock.Opener
	reg       *Registry
	presences []*mock.Presence
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		clock:  clocktest.New(epoch),
		opener: mock.NewOpener(),
	}
	base := []Option{
		WithClock(h.clock),
		WithDocumentFactory(func(string) collab.Document { return mock.NewDocument() }),
		WithPresenceFactory(func(string) collab.Presence {
			p := mock.NewPresence()
			h.presences = append(h.presences, p)
			return p
		}),
	}
	h.reg = New(append(base, opts...)...)
	t.Cleanup(h.reg.Destroy)
	return h
}

// migrate starts a migration to room and returns its settlement and
// transport.
func (h *harness) migrate(room string) (*Settlement, *mock.Transport) {
	h.t.Helper()

	s, err := h.reg.Migrate(h.t.Context(), h.opener, room, collab.JoinParams{"room": room})
	require.NoError(h.t, err)
	return s, h.opener.Last()
}

// settle drives tr through connected, synced and its first own update.
func settle(tr *mock.Transport) {
	tr.EmitStatus(collab.StatusConnected)
	tr.EmitSynced(true)
	tr.Deliver([]byte("state"))
}

func requireResolved(t *testing.T, s *Settlement) {
	t.Helper()
	select {
	case <-s.Done():
	default:
		t.Fatalf("settlement for %s still pending", s.Entry().RoomName())
	}
	require.NoError(t, s.Err())
}

func requirePending(t *testing.T, s *Settlement) {
	t.Helper()
	select {
	case <-s.Done():
		t.Fatalf("settlement for %s finished early: %v", s.Entry().RoomName(), s.Err())
	default:
	}
}

func requireRejected(t *testing.T, s *Settlement, target error) {
	t.Helper()
	select {
	case <-s.Done():
	default:
		t.Fatalf("settlement for %s still pending", s.Entry().RoomName())
	}
	require.ErrorIs(t, s.Err(), target)
}

func requireTornDown(t *testing.T, tr *mock.Transport) {
	t.Helper()
	require.Equal(t, 1, tr.DestroyCalls(), "transport destroy calls")
	doc := tr.Document.(*mock.Document)
	require.Equal(t, 1, doc.DestroyCalls(), "document destroy calls")
	require.Equal(t, 1, tr.Presence.(*mock.Presence).DestroyCalls(), "presence destroy calls")
	require.Zero(t, tr.Handlers(), "transport handlers left attached")
	require.Zero(t, doc.Handlers(), "document handlers left attached")
}

package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabkit/channels/pkg/collab"
)

func TestApplyAnnouncesOrigin(t *testing.T) {
	d := New()
	origin := &struct{ name string }{"transport"}

	var events []collab.UpdateEvent
	d.OnUpdate(func(ev collab.UpdateEvent) { events = append(events, ev) })

	update, err := EncodeUpdate([][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	require.NoError(t, d.Apply(update, origin))

	require.Len(t, events, 1)
	assert.Same(t, origin, events[0].Origin)
	assert.Equal(t, update, events[0].Update)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, d.Ops())
}

func TestApplyIsIdempotent(t *testing.T) {
	d := New()
	update, err := EncodeUpdate([][]byte{[]byte("x")})
	require.NoError(t, err)

	require.NoError(t, d.Apply(update, nil))
	require.NoError(t, d.Apply(update, nil))
	require.Equal(t, 1, d.Len())
}

func TestApplyEmptyUpdateStillAnnounced(t *testing.T) {
	d := New()
	calls := 0
	d.OnUpdate(func(collab.UpdateEvent) { calls++ })

	empty, err := MergeUpdates()
	require.NoError(t, err)
	require.NoError(t, d.Apply(empty, "remote"))
	require.Equal(t, 1, calls)
	require.Equal(t, 0, d.Len())
}

func TestApplyRejectsGarbage(t *testing.T) {
	d := New()
	calls := 0
	d.OnUpdate(func(collab.UpdateEvent) { calls++ })

	require.Error(t, d.Apply([]byte{0xff, 0x00}, nil))
	require.Equal(t, 0, calls)
}

func TestAppendUsesNilOrigin(t *testing.T) {
	d := New()
	var origin any = "unset"
	d.OnUpdate(func(ev collab.UpdateEvent) { origin = ev.Origin })

	require.NoError(t, d.Append([]byte("local edit")))
	require.Nil(t, origin)
	require.Equal(t, 1, d.Len())
}

func TestMergeUpdatesDeduplicates(t *testing.T) {
	u1, err := EncodeUpdate([][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	u2, err := EncodeUpdate([][]byte{[]byte("b"), []byte("c")})
	require.NoError(t, err)

	merged, err := MergeUpdates(u1, u2)
	require.NoError(t, err)

	ops, err := DecodeUpdate(merged)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, ops)
}

func TestEncodeStateRoundTripsIntoFreshDocument(t *testing.T) {
	src := New()
	require.NoError(t, src.Append([]byte("one")))
	require.NoError(t, src.Append([]byte("two")))

	state, err := src.EncodeState()
	require.NoError(t, err)

	dst := New()
	require.NoError(t, dst.Apply(state, nil))
	require.Equal(t, src.Ops(), dst.Ops())
}

func TestDestroy(t *testing.T) {
	d := New()
	d.OnUpdate(func(collab.UpdateEvent) { t.Fatal("handler called after destroy") })

	require.NoError(t, d.Destroy())
	require.NoError(t, d.Destroy())
	require.ErrorIs(t, d.Append([]byte("late")), ErrDestroyed)
}

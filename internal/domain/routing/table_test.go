package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/shared/id"
)

func pipeID(slot int) id.ResourceID { return id.Mint(id.KindPipe, 1, slot) }

func order(t *Table, m msg.MsgID) []id.ResourceID {
	r, ok := t.Lookup(m)
	if !ok {
		return nil
	}
	var out []id.ResourceID
	t.EachDest(r, func(d *Destination) bool {
		out = append(out, d.Pipe)
		return true
	})
	return out
}

func TestSubscribeCreatesRouteNewestFirst(t *testing.T) {
	tbl := NewTable(4, 4)

	res, err := tbl.Subscribe(42, pipeID(0), 4, ScopeGlobal, QoS{})
	require.NoError(t, err)
	assert.True(t, res.NewRoute)
	assert.Equal(t, 1, res.DestCount)

	res, err = tbl.Subscribe(42, pipeID(1), 4, ScopeGlobal, QoS{})
	require.NoError(t, err)
	assert.False(t, res.NewRoute)

	_, err = tbl.Subscribe(42, pipeID(2), 4, ScopeLocal, QoS{})
	require.NoError(t, err)

	assert.Equal(t, []id.ResourceID{pipeID(2), pipeID(1), pipeID(0)}, order(tbl, 42))
	assert.Equal(t, 1, tbl.RouteCount())
	assert.Equal(t, 3, tbl.DestCount())
}

func TestSubscribeDuplicateUpdatesLimit(t *testing.T) {
	tbl := NewTable(4, 4)

	_, err := tbl.Subscribe(7, pipeID(0), 4, ScopeGlobal, QoS{})
	require.NoError(t, err)
	res, err := tbl.Subscribe(7, pipeID(0), 9, ScopeGlobal, QoS{Priority: 1})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1, tbl.DestCount())

	d, ok := tbl.Find(7, pipeID(0))
	require.True(t, ok)
	assert.Equal(t, 9, d.MsgLimit)
	assert.Equal(t, uint8(1), d.QoS.Priority)
}

func TestMaxRoutes(t *testing.T) {
	tbl := NewTable(2, 4)

	_, err := tbl.Subscribe(1, pipeID(0), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)
	_, err = tbl.Subscribe(2, pipeID(0), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)

	_, err = tbl.Subscribe(3, pipeID(0), 1, ScopeGlobal, QoS{})
	assert.ErrorIs(t, err, ErrMaxRoutes)
	assert.Equal(t, 2, tbl.RouteCount())
	_, ok := tbl.Lookup(3)
	assert.False(t, ok)

	// Existing routes still accept destinations.
	_, err = tbl.Subscribe(1, pipeID(1), 1, ScopeGlobal, QoS{})
	assert.NoError(t, err)
}

func TestMaxDests(t *testing.T) {
	tbl := NewTable(2, 2)

	for i := 0; i < 2; i++ {
		_, err := tbl.Subscribe(5, pipeID(i), 1, ScopeGlobal, QoS{})
		require.NoError(t, err)
	}
	_, err := tbl.Subscribe(5, pipeID(2), 1, ScopeGlobal, QoS{})
	assert.ErrorIs(t, err, ErrMaxDests)

	// A duplicate on a full route is still accepted.
	res, err := tbl.Subscribe(5, pipeID(1), 3, ScopeGlobal, QoS{})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestMaxSubscriptions(t *testing.T) {
	assert.Equal(t, 8, NewTable(2, 4).MaxSubscriptions())
	assert.Equal(t, id.MaxSlots, NewTable(id.MaxSlots, 2).MaxSubscriptions())
}

func TestUnsubscribeFreesRoute(t *testing.T) {
	tbl := NewTable(1, 4)

	_, err := tbl.Subscribe(9, pipeID(0), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)
	_, err = tbl.Subscribe(9, pipeID(1), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)

	removed, err := tbl.Unsubscribe(9, pipeID(0))
	require.NoError(t, err)
	assert.Equal(t, pipeID(0), removed.Pipe)
	assert.Equal(t, 1, tbl.RouteCount())

	_, err = tbl.Unsubscribe(9, pipeID(0))
	assert.ErrorIs(t, err, ErrNoDest)

	_, err = tbl.Unsubscribe(9, pipeID(1))
	require.NoError(t, err)
	assert.Zero(t, tbl.RouteCount())
	assert.Zero(t, tbl.DestCount())

	_, err = tbl.Unsubscribe(9, pipeID(1))
	assert.ErrorIs(t, err, ErrNoRoute)

	// The freed slot takes a different MsgID.
	_, err = tbl.Subscribe(10, pipeID(0), 1, ScopeGlobal, QoS{})
	assert.NoError(t, err)
}

func TestSubscribeUnsubscribeLeavesCountUnchanged(t *testing.T) {
	tbl := NewTable(8, 8)
	_, err := tbl.Subscribe(100, pipeID(0), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)

	for slot := 1; slot < 6; slot++ {
		r, _ := tbl.Lookup(100)
		before := r.Len()

		_, err := tbl.Subscribe(100, pipeID(slot), 1, ScopeGlobal, QoS{})
		require.NoError(t, err)
		_, err = tbl.Unsubscribe(100, pipeID(slot))
		require.NoError(t, err)

		r, _ = tbl.Lookup(100)
		assert.Equal(t, before, r.Len())
	}
}

func TestRemovePipe(t *testing.T) {
	tbl := NewTable(4, 4)
	for _, m := range []msg.MsgID{1, 2, 3} {
		_, err := tbl.Subscribe(m, pipeID(0), 1, ScopeGlobal, QoS{})
		require.NoError(t, err)
	}
	_, err := tbl.Subscribe(2, pipeID(1), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)

	removed := tbl.RemovePipe(pipeID(0))
	assert.Len(t, removed, 3)
	assert.Equal(t, 1, tbl.RouteCount(), "only msg 2 still has a subscriber")
	assert.Equal(t, []id.ResourceID{pipeID(1)}, order(tbl, 2))

	_, ok := tbl.Find(1, pipeID(0))
	assert.False(t, ok)
}

func TestNextSequenceWraps(t *testing.T) {
	tbl := NewTable(1, 1)
	_, err := tbl.Subscribe(1, pipeID(0), 1, ScopeGlobal, QoS{})
	require.NoError(t, err)
	r, _ := tbl.Lookup(1)

	assert.Equal(t, uint16(1), tbl.NextSequence(r))
	r.Sequence = msg.MaxSequence
	assert.Equal(t, uint16(0), tbl.NextSequence(r))
}

func TestEachRoute(t *testing.T) {
	tbl := NewTable(4, 2)
	for _, m := range []msg.MsgID{0x800, 0x801} {
		_, err := tbl.Subscribe(m, pipeID(0), 1, ScopeGlobal, QoS{})
		require.NoError(t, err)
	}

	var seen []msg.MsgID
	tbl.EachRoute(func(r *Route) bool {
		seen = append(seen, r.MsgID)
		return true
	})
	assert.ElementsMatch(t, []msg.MsgID{0x800, 0x801}, seen)
	assert.Equal(t, 4, tbl.MaxRoutes())
	assert.Equal(t, 2, tbl.MaxDests())
}

package bus

import (
	"sort"

	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/pipe"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/shared/id"
)

// DestInfo is one destination in a routing snapshot.
type DestInfo struct {
	Pipe          id.ResourceID `json:"pipe"`
	PipeName      string        `json:"pipe_name"`
	MsgLimit      int           `json:"msg_limit"`
	BuffCount     int           `json:"buff_count"`
	DeliveryCount uint64        `json:"delivery_count"`
	Active        bool          `json:"active"`
	Scope         string        `json:"scope"`
	QoS           routing.QoS   `json:"qos"`
}

// RouteInfo is one MsgID and its destinations in delivery order.
type RouteInfo struct {
	MsgID        msg.MsgID  `json:"msg_id"`
	Sequence     uint16     `json:"sequence"`
	Destinations []DestInfo `json:"destinations"`
}

// MapEntry links a MsgID to its route handle.
type MapEntry struct {
	MsgID        msg.MsgID     `json:"msg_id"`
	Route        id.ResourceID `json:"route"`
	Destinations int           `json:"destinations"`
}

// Routes snapshots the routing table, ordered by MsgID.
func (b *Bus) Routes() []RouteInfo {
	b.mu.Lock()
	out := make([]RouteInfo, 0, b.routes.RouteCount())
	b.routes.EachRoute(func(r *routing.Route) bool {
		ri := RouteInfo{MsgID: r.MsgID, Sequence: r.Sequence}
		b.routes.EachDest(r, func(d *routing.Destination) bool {
			di := DestInfo{
				Pipe:          d.Pipe,
				MsgLimit:      d.MsgLimit,
				BuffCount:     d.BuffCount,
				DeliveryCount: d.DeliveryCount,
				Active:        d.Active,
				Scope:         d.Scope.String(),
				QoS:           d.QoS,
			}
			if p, ok := b.pipes.Get(d.Pipe); ok {
				di.PipeName = (*p).Name
			}
			ri.Destinations = append(ri.Destinations, di)
			return true
		})
		out = append(out, ri)
		return true
	})
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	return out
}

// Pipes snapshots every pipe, ordered by id.
func (b *Bus) Pipes() []pipe.Info {
	b.mu.Lock()
	out := make([]pipe.Info, 0, b.pipes.Len())
	b.pipes.Each(func(_ id.ResourceID, pp **pipe.Pipe) bool {
		out = append(out, (*pp).Info())
		return true
	})
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.Slot() < out[j].ID.Slot() })
	return out
}

// MsgMap lists every MsgID in use with its route handle, ordered by MsgID.
func (b *Bus) MsgMap() []MapEntry {
	b.mu.Lock()
	out := make([]MapEntry, 0, b.routes.RouteCount())
	b.routes.EachRoute(func(r *routing.Route) bool {
		rid, _ := b.routes.RouteID(r.MsgID)
		out = append(out, MapEntry{MsgID: r.MsgID, Route: rid, Destinations: r.Len()})
		return true
	})
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	return out
}

// Package routing maps MsgIDs to ordered destination lists.
//
// The table is a pair of fixed arenas: one for routes (one per MsgID in use)
// and one shared node pool for destinations. Each route keeps its destination
// handles newest first. Nothing here locks; the bus holds its routing lock
// around every call.
package routing

import (
	"errors"
	"fmt"

	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/shared/arena"
	"github.com/flightcore/softbus/internal/shared/id"
)

var (
	ErrMaxRoutes = errors.New("route table full")
	ErrMaxDests  = errors.New("destination list full")
	ErrNodePool  = errors.New("destination node pool exhausted")
	ErrNoRoute   = errors.New("no route for msg id")
	ErrNoDest    = errors.New("pipe not subscribed to msg id")
)

// Scope says whether a subscription is reported off-box.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeLocal
)

func (s Scope) String() string {
	if s == ScopeLocal {
		return "local"
	}
	return "global"
}

// QoS is carried through to subscription reports. It does not change delivery.
type QoS struct {
	Priority    uint8 `json:"priority"`
	Reliability uint8 `json:"reliability"`
}

// Destination links one MsgID to one pipe.
type Destination struct {
	Pipe          id.ResourceID `json:"pipe"`
	MsgLimit      int           `json:"msg_limit"`
	BuffCount     int           `json:"buff_count"`
	DeliveryCount uint64        `json:"delivery_count"`
	Active        bool          `json:"active"`
	Scope         Scope         `json:"scope"`
	QoS           QoS           `json:"qos"`
}

// Route is the destination list of one MsgID.
type Route struct {
	MsgID    msg.MsgID
	Sequence uint16
	dests    []id.ResourceID
}

// Len is the number of destinations on the route.
func (r *Route) Len() int { return len(r.dests) }

// SubscribeResult describes what Subscribe changed.
type SubscribeResult struct {
	NewRoute  bool
	Duplicate bool
	DestCount int
}

// Table is the routing table.
type Table struct {
	routes   *arena.Arena[*Route]
	nodes    *arena.Arena[Destination]
	index    map[msg.MsgID]id.ResourceID
	spare    []*Route
	maxDests int
}

// NewTable creates a table for at most maxRoutes MsgIDs with at most maxDests
// destinations each. All route and node storage is allocated here.
func NewTable(maxRoutes, maxDests int) *Table {
	t := &Table{
		routes:   arena.New[*Route](id.KindRoute, maxRoutes),
		nodes:    arena.New[Destination](id.KindDest, maxRoutes*maxDests),
		index:    make(map[msg.MsgID]id.ResourceID, maxRoutes),
		spare:    make([]*Route, 0, maxRoutes),
		maxDests: maxDests,
	}
	for i := 0; i < t.routes.Cap(); i++ {
		t.spare = append(t.spare, &Route{dests: make([]id.ResourceID, 0, maxDests)})
	}
	return t
}

// Lookup returns the route for m.
func (t *Table) Lookup(m msg.MsgID) (*Route, bool) {
	rid, ok := t.index[m]
	if !ok {
		return nil, false
	}
	r, ok := t.routes.Get(rid)
	if !ok {
		return nil, false
	}
	return *r, true
}

// RouteID returns the handle of m's route, as shown in the message map.
func (t *Table) RouteID(m msg.MsgID) (id.ResourceID, bool) {
	rid, ok := t.index[m]
	return rid, ok
}

// Subscribe adds pipe to m's route, creating the route if needed. An existing
// (m, pipe) pair is updated in place instead of duplicated.
func (t *Table) Subscribe(m msg.MsgID, pipe id.ResourceID, limit int, scope Scope, qos QoS) (SubscribeResult, error) {
	var res SubscribeResult

	r, ok := t.Lookup(m)
	if ok {
		if d, found := t.find(r, pipe); found {
			d.MsgLimit = limit
			d.QoS = qos
			res.Duplicate = true
			res.DestCount = r.Len()
			return res, nil
		}
		if r.Len() >= t.maxDests {
			return res, fmt.Errorf("%w: %s has %d", ErrMaxDests, m, r.Len())
		}
	} else {
		if t.routes.Full() {
			return res, fmt.Errorf("%w: %d msg ids in use", ErrMaxRoutes, t.routes.Len())
		}
		if t.maxDests <= 0 {
			return res, fmt.Errorf("%w: limit is %d", ErrMaxDests, t.maxDests)
		}
		r = t.addRoute(m)
		res.NewRoute = true
	}

	rid, _, ok := t.nodes.Alloc(Destination{
		Pipe:     pipe,
		MsgLimit: limit,
		Active:   true,
		Scope:    scope,
		QoS:      qos,
	})
	if !ok {
		if res.NewRoute {
			t.freeRoute(r)
		}
		return SubscribeResult{}, ErrNodePool
	}

	// Newest subscriber first.
	r.dests = append(r.dests, id.Undefined)
	copy(r.dests[1:], r.dests)
	r.dests[0] = rid

	res.DestCount = r.Len()
	return res, nil
}

// Unsubscribe removes pipe from m's route and returns the removed entry. The
// route is freed when its last destination goes.
func (t *Table) Unsubscribe(m msg.MsgID, pipe id.ResourceID) (Destination, error) {
	r, ok := t.Lookup(m)
	if !ok {
		return Destination{}, fmt.Errorf("%w: %s", ErrNoRoute, m)
	}
	for i, rid := range r.dests {
		d, ok := t.nodes.Get(rid)
		if !ok || d.Pipe != pipe {
			continue
		}
		removed := *d
		t.removeAt(r, i)
		return removed, nil
	}
	return Destination{}, fmt.Errorf("%w: %s pipe %s", ErrNoDest, m, pipe)
}

// Removal is one destination dropped by RemovePipe.
type Removal struct {
	MsgID msg.MsgID
	Dest  Destination
}

// RemovePipe drops every destination that points at pipe.
func (t *Table) RemovePipe(pipe id.ResourceID) []Removal {
	var out []Removal
	var emptied []*Route
	t.routes.Each(func(_ id.ResourceID, rp **Route) bool {
		r := *rp
		for i := 0; i < len(r.dests); i++ {
			d, ok := t.nodes.Get(r.dests[i])
			if !ok || d.Pipe != pipe {
				continue
			}
			out = append(out, Removal{MsgID: r.MsgID, Dest: *d})
			t.nodes.Free(r.dests[i])
			r.dests = append(r.dests[:i], r.dests[i+1:]...)
			break
		}
		if len(r.dests) == 0 {
			emptied = append(emptied, r)
		}
		return true
	})
	for _, r := range emptied {
		t.freeRoute(r)
	}
	return out
}

// Find returns the live destination for (m, pipe).
func (t *Table) Find(m msg.MsgID, pipe id.ResourceID) (*Destination, bool) {
	r, ok := t.Lookup(m)
	if !ok {
		return nil, false
	}
	return t.find(r, pipe)
}

// EachDest calls fn for r's destinations in delivery order until fn returns
// false. fn may modify the destination but must not subscribe or unsubscribe.
func (t *Table) EachDest(r *Route, fn func(d *Destination) bool) {
	for _, rid := range r.dests {
		d, ok := t.nodes.Get(rid)
		if !ok {
			continue
		}
		if !fn(d) {
			return
		}
	}
}

// EachRoute calls fn for every route in slot order until fn returns false.
func (t *Table) EachRoute(fn func(r *Route) bool) {
	t.routes.Each(func(_ id.ResourceID, rp **Route) bool {
		return fn(*rp)
	})
}

// NextSequence advances and returns r's sequence counter, wrapping at the
// header's sequence width.
func (t *Table) NextSequence(r *Route) uint16 {
	r.Sequence = (r.Sequence + 1) & msg.MaxSequence
	return r.Sequence
}

// RouteCount is the number of MsgIDs in use.
func (t *Table) RouteCount() int { return t.routes.Len() }

// DestCount is the number of destinations in use across all routes.
func (t *Table) DestCount() int { return t.nodes.Len() }

// MaxRoutes is the route capacity.
func (t *Table) MaxRoutes() int { return t.routes.Cap() }

// MaxDests is the per-route destination limit.
func (t *Table) MaxDests() int { return t.maxDests }

// MaxSubscriptions is the capacity of the destination pool shared by all routes.
func (t *Table) MaxSubscriptions() int { return t.nodes.Cap() }

func (t *Table) find(r *Route, pipe id.ResourceID) (*Destination, bool) {
	for _, rid := range r.dests {
		if d, ok := t.nodes.Get(rid); ok && d.Pipe == pipe {
			return d, true
		}
	}
	return nil, false
}

func (t *Table) addRoute(m msg.MsgID) *Route {
	r := t.spare[len(t.spare)-1]
	t.spare = t.spare[:len(t.spare)-1]
	r.MsgID = m
	r.Sequence = 0
	r.dests = r.dests[:0]

	rid, _, _ := t.routes.Alloc(r)
	t.index[m] = rid
	return r
}

func (t *Table) removeAt(r *Route, i int) {
	t.nodes.Free(r.dests[i])
	r.dests = append(r.dests[:i], r.dests[i+1:]...)
	if len(r.dests) == 0 {
		t.freeRoute(r)
	}
}

func (t *Table) freeRoute(r *Route) {
	rid, ok := t.index[r.MsgID]
	if !ok {
		return
	}
	delete(t.index, r.MsgID)
	t.routes.Free(rid)
	r.MsgID = msg.InvalidMsgID
	r.dests = r.dests[:0]
	t.spare = append(t.spare, r)
}

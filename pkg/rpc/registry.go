package rpc

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// subscriptionState is the physical lifecycle of one characteristic subscription.
type subscriptionState int

const (
	// subscriptionPending: the group exists but no enable request has been issued.
	subscriptionPending subscriptionState = iota
	subscriptionSubscribing
	subscriptionSubscribed
	subscriptionUnsubscribing
)

func (s subscriptionState) String() string {
	switch s {
	case subscriptionPending:
		return "pending"
	case subscriptionSubscribing:
		return "subscribing"
	case subscriptionSubscribed:
		return "subscribed"
	case subscriptionUnsubscribing:
		return "unsubscribing"
	default:
		return fmt.Sprintf("subscriptionState(%d)", int(s))
	}
}

// subscriptionGroup is the set of subscribe calls sharing one physical subscription.
type subscriptionGroup struct {
	method         *Method
	service        string
	characteristic string
	descriptor     string

	state       subscriptionState
	subscribers *orderedmap.OrderedMap[uint64, *call]
}

// transition moves the group from one state to another and panics on any other starting state.
func (g *subscriptionGroup) transition(from, to subscriptionState) {
	if g.state != from {
		panic(fmt.Sprintf("rpc: subscription %s is %s, expected %s before moving to %s",
			g.characteristic, g.state, from, to))
	}
	g.state = to
}

func (g *subscriptionGroup) add(c *call) {
	g.subscribers.Set(c.id, c)
}

func (g *subscriptionGroup) drop(c *call) {
	g.subscribers.Delete(c.id)
}

func (g *subscriptionGroup) empty() bool {
	return g.subscribers.Len() == 0
}

// members returns subscribers in join order.
func (g *subscriptionGroup) members() []*call {
	out := make([]*call, 0, g.subscribers.Len())
	for p := g.subscribers.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// pruneCanceled removes canceled and already failed subscribers and returns how many it removed.
func (g *subscriptionGroup) pruneCanceled() int {
	var gone []uint64
	for p := g.subscribers.Oldest(); p != nil; p = p.Next() {
		if p.Value.controller.IsCanceled() || p.Value.controller.Failed() {
			gone = append(gone, p.Key)
		}
	}
	for _, id := range gone {
		g.subscribers.Delete(id)
	}
	return len(gone)
}

func (g *subscriptionGroup) clear() {
	for _, c := range g.members() {
		g.subscribers.Delete(c.id)
	}
}

// registry holds subscription groups keyed by normalized characteristic UUID, in creation order.
type registry struct {
	groups *orderedmap.OrderedMap[string, *subscriptionGroup]
}

func newRegistry() *registry {
	return &registry{groups: orderedmap.New[string, *subscriptionGroup]()}
}

// join adds a subscribe call to its group, creating the group in the pending state.
func (r *registry) join(c *call) *subscriptionGroup {
	g, ok := r.groups.Get(c.characteristic)
	if !ok {
		g = &subscriptionGroup{
			method:         c.method,
			service:        c.service,
			characteristic: c.characteristic,
			descriptor:     c.descriptor,
			subscribers:    orderedmap.New[uint64, *call](),
		}
		r.groups.Set(c.characteristic, g)
	}
	g.add(c)
	return g
}

func (r *registry) get(characteristic string) (*subscriptionGroup, bool) {
	return r.groups.Get(characteristic)
}

// mustGet returns the group in the wanted state; anything else is an internal invariant violation.
func (r *registry) mustGet(characteristic string, want subscriptionState) *subscriptionGroup {
	g, ok := r.groups.Get(characteristic)
	if !ok {
		panic(fmt.Sprintf("rpc: no subscription group for characteristic %s", characteristic))
	}
	if g.state != want {
		panic(fmt.Sprintf("rpc: subscription %s is %s, expected %s", characteristic, g.state, want))
	}
	return g
}

func (r *registry) remove(characteristic string) {
	r.groups.Delete(characteristic)
}

func (r *registry) len() int {
	return r.groups.Len()
}

// all returns the groups in creation order.
func (r *registry) all() []*subscriptionGroup {
	out := make([]*subscriptionGroup, 0, r.groups.Len())
	for p := r.groups.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

func (r *registry) clear() {
	for _, g := range r.all() {
		r.groups.Delete(g.characteristic)
	}
}

package registry

// GroupCall tracks which session ids are in the ad-hoc group call. Membership
// is advisory bookkeeping for the UI, not an access-control gate; it is
// independent of 1:1 call status.
//
// Like Registry, it is serialized by the hub's lock.
type GroupCall struct {
	members map[string]struct{}
	order   []string
}

func NewGroupCall() *GroupCall {
	return &GroupCall{
		members: make(map[string]struct{}),
	}
}

// Join adds the session id and reports whether it was newly added.
func (g *GroupCall) Join(id string) bool {
	if _, ok := g.members[id]; ok {
		return false
	}
	g.members[id] = struct{}{}
	g.order = append(g.order, id)
	return true
}

// Leave removes the session id and reports whether it was present.
func (g *GroupCall) Leave(id string) bool {
	if _, ok := g.members[id]; !ok {
		return false
	}
	delete(g.members, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

func (g *GroupCall) Contains(id string) bool {
	_, ok := g.members[id]
	return ok
}

func (g *GroupCall) Len() int {
	return len(g.members)
}

// Members returns the current member ids in join order.
func (g *GroupCall) Members() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

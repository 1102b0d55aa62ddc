package chat

import (
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/samber/lo"
)

// memberSet is never mutated once stored in the registry. Writers build a new
// set under the shard lock and swap it in, so readers can iterate a set they
// fetched without holding any lock and never observe a torn update.
type memberSet map[string]*Conn

// Registry maps each group to the set of its live connections.
//
// Groups are spread over the shards of a concurrent map; add and remove run
// entirely inside the shard lock of their group, so concurrent churn on
// different groups does not contend. A second index remembers the group each
// connection currently belongs to, which keeps a connection in at most one
// group.
type Registry struct {
	groups    cmap.ConcurrentMap[GroupKey, memberSet]
	placement cmap.ConcurrentMap[string, GroupKey]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		groups:    cmap.NewStringer[GroupKey, memberSet](),
		placement: cmap.New[GroupKey](),
	}
}

// Add puts c into the member set of key, creating the group if needed.
// Adding a connection that is already a member is a no-op. A connection that
// was a member of another group is moved.
func (r *Registry) Add(key GroupKey, c *Conn) {
	if prev, ok := r.placement.Get(c.id); ok && prev != key {
		r.Remove(prev, c)
	}
	r.placement.Set(c.id, key)

	r.groups.Upsert(key, nil, func(exist bool, current memberSet, _ memberSet) memberSet {
		if _, ok := current[c.id]; ok {
			return current
		}
		next := make(memberSet, len(current)+1)
		for id, m := range current {
			next[id] = m
		}
		next[c.id] = c
		return next
	})
}

// Remove takes c out of the member set of key and prunes the group once it is
// empty. It reports whether c was a member; removing an absent connection is a
// no-op.
func (r *Registry) Remove(key GroupKey, c *Conn) bool {
	removed := false
	r.groups.Upsert(key, nil, func(exist bool, current memberSet, _ memberSet) memberSet {
		if _, ok := current[c.id]; !ok {
			return current
		}
		removed = true
		next := make(memberSet, len(current))
		for id, m := range current {
			if id != c.id {
				next[id] = m
			}
		}
		return next
	})

	// Upsert may have created an empty entry for an unknown group; both cases
	// are cleaned up here. The callback runs under the shard lock, so a
	// concurrent Add that repopulated the group keeps it alive.
	r.groups.RemoveCb(key, func(_ GroupKey, v memberSet, exists bool) bool {
		return exists && len(v) == 0
	})

	if removed {
		r.placement.RemoveCb(c.id, func(_ string, v GroupKey, exists bool) bool {
			return exists && v == key
		})
	}
	return removed
}

// Members returns a point-in-time copy of the connections in key.
func (r *Registry) Members(key GroupKey) []*Conn {
	set, ok := r.groups.Get(key)
	if !ok {
		return []*Conn{}
	}
	return lo.Values(set)
}

// Usernames returns the sorted, de-duplicated display names of the members of
// key. A user connected from two tabs is listed once.
func (r *Registry) Usernames(key GroupKey) []string {
	names := lo.Uniq(lo.Map(r.Members(key), func(c *Conn, _ int) string { return c.name }))
	slices.Sort(names)
	return names
}

// Contains reports whether c is currently a member of key.
func (r *Registry) Contains(key GroupKey, c *Conn) bool {
	set, ok := r.groups.Get(key)
	if !ok {
		return false
	}
	_, ok = set[c.id]
	return ok
}

// GroupOf returns the group c currently belongs to.
func (r *Registry) GroupOf(c *Conn) (GroupKey, bool) {
	return r.placement.Get(c.id)
}

// Groups returns the number of non-empty groups.
func (r *Registry) Groups() int {
	return r.groups.Count()
}

// Connections returns the number of registered connections.
func (r *Registry) Connections() int {
	return r.placement.Count()
}

package td

import "github.com/google/uuid"

// The lock graph tracks, per container instance, the set of graph
// nodes whose lock currently pins it. Locking a root walks every
// reachable container (nested entries, stacked siblings, view
// sources) and records on each one the identities of all nodes on the
// path from the root, so a deeply shared child accumulates one owner
// entry per distinct ancestor, per distinct path. Unlocking removes
// exactly those contributions and fails if any pinned owner from
// another still-locked ancestor would remain.

// lockNode is the per-instance lock graph state.
type lockNode struct {
	id     uuid.UUID
	owners map[uuid.UUID]struct{}
	locked bool // Explicitly locked as a root
	cache  enumCache
}

func newLockNode() lockNode {
	return lockNode{
		id:     uuid.New(),
		owners: make(map[uuid.UUID]struct{}),
	}
}

// selfLocked reports the node's own contribution to the lock state.
func (n *lockNode) selfLocked() bool {
	return n.locked || len(n.owners) > 0
}

// lockGraph explicitly locks root and propagates owner ids across the
// reachable graph.
func lockGraph(root Dict) error {
	if _, ok := root.(*SubDict); ok {
		return ErrLockSubDict
	}
	propagateLock(root, nil)
	return nil
}

// propagateLock records path on d and descends with d's own id
// appended. A node already on the current path terminates the walk:
// self-referential graphs lock once per distinct acyclic path.
func propagateLock(d Dict, path []uuid.UUID) {
	n := d.lockState()
	if n == nil {
		return
	}
	for _, id := range path {
		if id == n.id {
			return
		}
	}
	if path == nil {
		n.locked = true
	} else {
		for _, id := range path {
			n.owners[id] = struct{}{}
		}
	}
	next := append(append([]uuid.UUID(nil), path...), n.id)
	for _, c := range d.lockChildren() {
		propagateLock(c, next)
	}
}

// unlockGraph removes root's explicit lock and every owner entry its
// propagation contributed, in two phases: first verify that no
// reachable node stays pinned by a different ancestor, then apply. On
// failure nothing is mutated.
func unlockGraph(root Dict) error {
	if _, ok := root.(*SubDict); ok {
		return ErrLockSubDict
	}

	removals := make(map[*lockNode]map[uuid.UUID]struct{})
	order := make([]*lockNode, 0)
	collectUnlock(root, nil, removals, &order)

	for n, ids := range removals {
		remaining := 0
		for id := range n.owners {
			if _, drop := ids[id]; !drop {
				remaining++
			}
		}
		if remaining > 0 {
			return ErrLockedGraph
		}
	}

	for _, n := range order {
		for id := range removals[n] {
			delete(n.owners, id)
		}
		n.locked = false
		n.cache.clear()
	}
	return nil
}

func collectUnlock(d Dict, path []uuid.UUID, removals map[*lockNode]map[uuid.UUID]struct{}, order *[]*lockNode) {
	n := d.lockState()
	if n == nil {
		return
	}
	for _, id := range path {
		if id == n.id {
			return
		}
	}
	ids, seen := removals[n]
	if !seen {
		ids = make(map[uuid.UUID]struct{})
		removals[n] = ids
		*order = append(*order, n)
	}
	for _, id := range path {
		ids[id] = struct{}{}
	}
	next := append(append([]uuid.UUID(nil), path...), n.id)
	for _, c := range d.lockChildren() {
		collectUnlock(c, next, removals, order)
	}
}

// releaseGraph drops root's lock contribution from every reachable
// node without erroring. This mirrors the source behavior where
// dropping the last reference to a locked root cleans its id out of
// all descendants instead of performing a recursive unlock.
func releaseGraph(root Dict) {
	n := root.lockState()
	if n == nil {
		return
	}
	n.locked = false
	n.cache.clear()
	visited := map[*lockNode]struct{}{n: {}}
	dropOwner(root, n.id, visited)
}

func dropOwner(d Dict, id uuid.UUID, visited map[*lockNode]struct{}) {
	for _, c := range d.lockChildren() {
		cn := c.lockState()
		if cn == nil {
			continue
		}
		if _, ok := visited[cn]; ok {
			continue
		}
		visited[cn] = struct{}{}
		delete(cn.owners, id)
		if !c.IsLocked() {
			cn.cache.clear()
		}
		dropOwner(c, id, visited)
	}
}

// ownerSet computes the distinct lock owners pinning d. Plain and view
// tensordicts carry their own owner sets; stacked composites derive
// theirs as the union of their siblings', excluding the siblings
// themselves.
func ownerSet(d Dict) map[uuid.UUID]struct{} {
	switch s := d.(type) {
	case *StackedDict:
		out := make(map[uuid.UUID]struct{})
		for id := range s.node.owners {
			out[id] = struct{}{}
		}
		sibs := make(map[uuid.UUID]struct{}, len(s.dicts))
		for _, sib := range s.dicts {
			if sn := sib.lockState(); sn != nil {
				sibs[sn.id] = struct{}{}
			}
		}
		for _, sib := range s.dicts {
			for id := range ownerSet(sib) {
				if _, own := sibs[id]; !own {
					out[id] = struct{}{}
				}
			}
		}
		return out
	case *SubDict:
		return ownerSet(s.parent)
	default:
		n := d.lockState()
		out := make(map[uuid.UUID]struct{}, len(n.owners))
		for id := range n.owners {
			out[id] = struct{}{}
		}
		return out
	}
}

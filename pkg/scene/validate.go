package scene

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation reports a graph that breaks the single-owner or
// no-dangling-reference rules. Such documents are rejected, never repaired.
var ErrInvariantViolation = errors.New("scene invariant violation")

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// Validate checks that every live node has exactly one owner, that owners
// and children agree, that the parent chain has no cycles and that no live
// entity points at a missing or disposed one.
func (d *Document) Validate() error {
	if err := d.ValidateTree(); err != nil {
		return err
	}
	for i := range d.nodes {
		n := &d.nodes[i]
		if n.disposed {
			continue
		}
		for _, rid := range [...]ResourceID{n.Mesh, n.Camera, n.Light, n.Skin} {
			if rid == NoResource {
				continue
			}
			if r := d.Resource(rid); r == nil || r.disposed {
				return invariantf("node %d references dead resource %d", i, rid)
			}
		}
	}
	return d.validateResources()
}

// ValidateTree checks node ownership only: one owner per live node, owners
// and children that agree, no parent cycles and no dead scene roots.
// Resource references are not inspected, so it holds between pipeline
// stages even while skins and animations still name disposed nodes.
func (d *Document) ValidateTree() error {
	for i := range d.nodes {
		n := &d.nodes[i]
		if n.disposed {
			continue
		}
		id := NodeID(i)

		if n.parent != NoNode {
			p := d.Node(n.parent)
			if p == nil || p.disposed {
				return invariantf("node %d has dead parent %d", id, n.parent)
			}
			if count(p.children, id) != 1 {
				return invariantf("node %d is listed %d times by parent %d", id, count(p.children, id), n.parent)
			}
		}

		for _, c := range n.children {
			cn := d.Node(c)
			if cn == nil || cn.disposed {
				return invariantf("node %d has dead child %d", id, c)
			}
			if cn.parent != id {
				return invariantf("node %d lists child %d owned by %d", id, c, cn.parent)
			}
		}

		if err := d.checkAncestry(id); err != nil {
			return err
		}
	}

	for si := range d.scenes {
		seen := make(map[NodeID]bool)
		for _, r := range d.scenes[si].roots {
			n := d.Node(r)
			if n == nil || n.disposed {
				return invariantf("scene %d lists dead node %d", si, r)
			}
			if n.parent != NoNode {
				return invariantf("scene %d lists node %d owned by node %d", si, r, n.parent)
			}
			if seen[r] {
				return invariantf("scene %d lists node %d twice", si, r)
			}
			seen[r] = true
		}
	}
	return nil
}

func (d *Document) validateResources() error {
	for i := range d.resources {
		r := &d.resources[i]
		if r.disposed {
			continue
		}
		for _, ref := range r.Refs {
			if t := d.Resource(ref); t == nil || t.disposed {
				return invariantf("%s %d references dead resource %d", r.Kind, i, ref)
			}
		}
		for _, nid := range r.Nodes {
			if d.IsDisposed(nid) {
				return invariantf("%s %d references dead node %d", r.Kind, i, nid)
			}
		}
		for _, tg := range r.Targets {
			if d.IsDisposed(tg.Node) {
				return invariantf("%s %d targets dead node %d", r.Kind, i, tg.Node)
			}
			for _, ref := range tg.Refs {
				if t := d.Resource(ref); t == nil || t.disposed {
					return invariantf("%s %d target references dead resource %d", r.Kind, i, ref)
				}
			}
		}
	}
	return nil
}

// checkAncestry walks the parent chain and fails if it loops.
func (d *Document) checkAncestry(id NodeID) error {
	cur := id
	for steps := 0; cur != NoNode; steps++ {
		if steps > len(d.nodes) {
			return invariantf("node %d is part of a parent cycle", id)
		}
		n := d.Node(cur)
		if n == nil {
			return invariantf("node %d has ancestor %d out of range", id, cur)
		}
		cur = n.parent
	}
	return nil
}

func count(ids []NodeID, id NodeID) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}

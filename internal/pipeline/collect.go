package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Faultbox/glbclean/pkg/scene"
)

// ErrResourceCollection reports that reachability could not be computed.
var ErrResourceCollection = errors.New("resource collection failed")

// CollectStats describes what CollectResources disposed.
type CollectStats struct {
	Disposed    map[scene.Kind]int
	OrphanNodes int
}

// Total returns the number of disposed resources.
func (s CollectStats) Total() int {
	total := 0
	for _, n := range s.Disposed {
		total += n
	}
	return total
}

// CollectResources marks everything reachable from the scene roots and
// disposes the rest: unreachable resources, and live nodes that no scene
// reaches. Animations are kept while one of their targets is reachable, and
// only the targets whose node is reachable keep their data alive.
func CollectResources(doc *scene.Document) (CollectStats, error) {
	st := CollectStats{Disposed: make(map[scene.Kind]int)}
	if len(doc.Opaque) > 0 {
		return st, fmt.Errorf("%w: cannot follow references of %s",
			ErrResourceCollection, strings.Join(doc.Opaque, ", "))
	}
	if err := doc.ValidateTree(); err != nil {
		return st, fmt.Errorf("%w: %w", ErrResourceCollection, err)
	}

	m := &marker{
		doc:       doc,
		nodes:     make([]bool, doc.NumNodes()),
		resources: make([]bool, doc.NumResources()),
	}
	for si := range doc.NumScenes() {
		for _, root := range doc.Scene(si).Roots() {
			if err := m.markTree(root); err != nil {
				return st, fmt.Errorf("scene %d: %w", si, err)
			}
		}
	}
	for i := range doc.NumResources() {
		id := scene.ResourceID(i)
		r := doc.Resource(id)
		if r.Disposed() || r.Kind != scene.KindAnimation {
			continue
		}
		if !slices.ContainsFunc(r.Nodes, m.reached) {
			continue
		}
		if err := m.markResources(id); err != nil {
			return st, err
		}
		for _, tg := range r.Targets {
			if !m.reached(tg.Node) {
				continue
			}
			if err := m.markEdges(id, tg.Refs); err != nil {
				return st, err
			}
		}
	}

	for _, id := range doc.LiveNodes() {
		if m.nodes[id] {
			continue
		}
		if err := doc.DisposeNode(id); err != nil {
			return st, fmt.Errorf("disposing orphan node %d: %w", id, err)
		}
		st.OrphanNodes++
	}
	for i := range doc.NumResources() {
		id := scene.ResourceID(i)
		r := doc.Resource(id)
		if r.Disposed() {
			continue
		}
		if !m.resources[id] {
			st.Disposed[r.Kind]++
			doc.DisposeResource(id)
			continue
		}
		r.Nodes = slices.DeleteFunc(r.Nodes, doc.IsDisposed)
		r.Targets = slices.DeleteFunc(r.Targets, func(tg scene.Target) bool { return doc.IsDisposed(tg.Node) })
	}
	return st, nil
}

type marker struct {
	doc       *scene.Document
	nodes     []bool
	resources []bool
}

func (m *marker) reached(id scene.NodeID) bool {
	return id >= 0 && int(id) < len(m.nodes) && m.nodes[id]
}

// markTree marks a scene root, its descendants and their attachments.
func (m *marker) markTree(root scene.NodeID) error {
	stack := []scene.NodeID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := m.doc.Node(id)
		if n == nil || n.Disposed() {
			return fmt.Errorf("%w: dead node %d in scene graph", ErrResourceCollection, id)
		}
		if m.nodes[id] {
			continue
		}
		m.nodes[id] = true

		attachments := [...]struct {
			id   scene.ResourceID
			kind scene.Kind
		}{
			{n.Mesh, scene.KindMesh},
			{n.Camera, scene.KindCamera},
			{n.Light, scene.KindLight},
			{n.Skin, scene.KindSkin},
		}
		for _, a := range attachments {
			if a.id == scene.NoResource {
				continue
			}
			if r := m.doc.Resource(a.id); r != nil && r.Kind != a.kind {
				return fmt.Errorf("%w: node %d attaches %s %d as %s",
					ErrResourceCollection, id, r.Kind, a.id, a.kind)
			}
			if err := m.markResources(a.id); err != nil {
				return err
			}
		}
		stack = append(stack, n.Children()...)
	}
	return nil
}

// markResources marks start and everything it references.
func (m *marker) markResources(start scene.ResourceID) error {
	stack := []scene.ResourceID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r := m.doc.Resource(id)
		if r == nil || r.Disposed() {
			return fmt.Errorf("%w: dangling reference to resource %d", ErrResourceCollection, id)
		}
		if !r.Kind.Valid() {
			return fmt.Errorf("%w: resource %d has unsupported kind %s", ErrResourceCollection, id, r.Kind)
		}
		if m.resources[id] {
			continue
		}
		m.resources[id] = true

		next, err := m.edges(id, r.Refs)
		if err != nil {
			return err
		}
		stack = append(stack, next...)
	}
	return nil
}

// markEdges marks refs, held by the already marked resource from, and
// everything they reference.
func (m *marker) markEdges(from scene.ResourceID, refs []scene.ResourceID) error {
	next, err := m.edges(from, refs)
	if err != nil {
		return err
	}
	for _, ref := range next {
		if err := m.markResources(ref); err != nil {
			return err
		}
	}
	return nil
}

// edges checks the outgoing references of from and returns them.
func (m *marker) edges(from scene.ResourceID, refs []scene.ResourceID) ([]scene.ResourceID, error) {
	r := m.doc.Resource(from)
	for _, ref := range refs {
		t := m.doc.Resource(ref)
		if t == nil || t.Disposed() {
			return nil, fmt.Errorf("%w: %s %d references missing resource %d",
				ErrResourceCollection, r.Kind, from, ref)
		}
		if !scene.CanReference(r.Kind, t.Kind) {
			return nil, fmt.Errorf("%w: unsupported %s -> %s edge (%d -> %d)",
				ErrResourceCollection, r.Kind, t.Kind, from, ref)
		}
	}
	return refs, nil
}

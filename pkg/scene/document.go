// Package scene provides the mutable scene-graph model that glbclean operates on.
//
// Nodes and resources live in arenas addressed by stable integer handles.
// A node owns its children as a handle list and keeps a plain, non-owning
// back-reference to its parent. Disposed entries keep their slot so handles
// never shift while a document is being cleaned.
package scene

import (
	"fmt"
	"iter"
	"slices"
)

// NodeID addresses a node in a Document.
type NodeID int

// NoNode is the parent of a top-level node.
const NoNode NodeID = -1

// ResourceID addresses a resource in a Document's pool.
type ResourceID int

// NoResource marks an empty attachment.
const NoResource ResourceID = -1

// Node is a positioned element of the scene graph.
type Node struct {
	Name string

	// Attachments. NoResource when absent.
	Mesh   ResourceID
	Camera ResourceID
	Light  ResourceID
	Skin   ResourceID

	// Origin is the node's index in the file it was decoded from, or -1.
	Origin int

	children []NodeID
	parent   NodeID
	disposed bool
}

// Children returns a copy of the node's ordered child handles.
func (n *Node) Children() []NodeID {
	return slices.Clone(n.children)
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// Parent returns the parent node, or NoNode for a top-level node.
func (n *Node) Parent() NodeID {
	return n.parent
}

// Disposed reports whether the node has been removed from the document.
func (n *Node) Disposed() bool {
	return n.disposed
}

// Scene is a named, ordered collection of root nodes.
type Scene struct {
	Name   string
	Origin int

	roots []NodeID
}

// Roots returns a copy of the scene's root node handles.
func (s *Scene) Roots() []NodeID {
	return slices.Clone(s.roots)
}

// Document owns the scenes, the node arena and the resource pool.
type Document struct {
	// DefaultScene is the scene shown on load, or -1 when unspecified.
	DefaultScene int

	nodes     []Node
	scenes    []Scene
	resources []Resource

	// Opaque names document features carrying references the model does
	// not follow. Reachability cannot be computed while it is non-empty.
	Opaque []string
}

// New returns an empty document.
func New() *Document {
	return &Document{DefaultScene: -1}
}

// AddScene appends a scene and returns its index.
func (d *Document) AddScene(name string) int {
	d.scenes = append(d.scenes, Scene{Name: name, Origin: -1})
	return len(d.scenes) - 1
}

// AddNode appends a detached node with no attachments.
func (d *Document) AddNode(name string) NodeID {
	d.nodes = append(d.nodes, Node{
		Name:   name,
		Mesh:   NoResource,
		Camera: NoResource,
		Light:  NoResource,
		Skin:   NoResource,
		Origin: -1,
		parent: NoNode,
	})
	return NodeID(len(d.nodes) - 1)
}

// AddRoot lists node id as a root of scene. The model records exactly what
// it is given; Validate reports nodes that end up with two owners.
func (d *Document) AddRoot(scene int, id NodeID) error {
	if scene < 0 || scene >= len(d.scenes) {
		return invariantf("scene %d out of range", scene)
	}
	if d.Node(id) == nil {
		return invariantf("node %d out of range", id)
	}
	d.scenes[scene].roots = append(d.scenes[scene].roots, id)
	return nil
}

// AddChild appends child to parent's children and points child back at
// parent. Like AddRoot it does not check for an existing owner.
func (d *Document) AddChild(parent, child NodeID) error {
	p, c := d.Node(parent), d.Node(child)
	if p == nil || c == nil {
		return invariantf("child link %d -> %d out of range", parent, child)
	}
	p.children = append(p.children, child)
	c.parent = parent
	return nil
}

// Node returns the node for id, or nil if id is out of range.
// Disposed nodes are still returned; check Disposed.
func (d *Document) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(d.nodes) {
		return nil
	}
	return &d.nodes[id]
}

// NumNodes returns the size of the node arena, disposed slots included.
func (d *Document) NumNodes() int {
	return len(d.nodes)
}

// Nodes iterates over every arena slot, disposed ones included.
func (d *Document) Nodes() iter.Seq2[NodeID, *Node] {
	return func(yield func(NodeID, *Node) bool) {
		for i := range d.nodes {
			if !yield(NodeID(i), &d.nodes[i]) {
				return
			}
		}
	}
}

// SetMesh attaches mesh r to node id. NoResource clears the attachment.
func (d *Document) SetMesh(id NodeID, r ResourceID) error {
	return d.attach(id, r, KindMesh, func(n *Node) *ResourceID { return &n.Mesh })
}

// SetCamera attaches camera r to node id. NoResource clears the attachment.
func (d *Document) SetCamera(id NodeID, r ResourceID) error {
	return d.attach(id, r, KindCamera, func(n *Node) *ResourceID { return &n.Camera })
}

// SetLight attaches light r to node id. NoResource clears the attachment.
func (d *Document) SetLight(id NodeID, r ResourceID) error {
	return d.attach(id, r, KindLight, func(n *Node) *ResourceID { return &n.Light })
}

// SetSkin attaches skin r to node id. NoResource clears the attachment.
func (d *Document) SetSkin(id NodeID, r ResourceID) error {
	return d.attach(id, r, KindSkin, func(n *Node) *ResourceID { return &n.Skin })
}

func (d *Document) attach(id NodeID, r ResourceID, kind Kind, field func(*Node) *ResourceID) error {
	n := d.Node(id)
	if n == nil || n.disposed {
		return invariantf("%s attachment on dead node %d", kind, id)
	}
	if r != NoResource {
		res := d.Resource(r)
		if res == nil || res.disposed {
			return invariantf("node %d attaches dead resource %d", id, r)
		}
		if res.Kind != kind {
			return invariantf("node %d attaches %s %d as %s", id, res.Kind, r, kind)
		}
	}
	*field(n) = r
	return nil
}

// IsDisposed reports whether id is out of range or disposed.
func (d *Document) IsDisposed(id NodeID) bool {
	n := d.Node(id)
	return n == nil || n.disposed
}

// LiveNodes returns the handles of all live nodes in arena order.
func (d *Document) LiveNodes() []NodeID {
	ids := make([]NodeID, 0, len(d.nodes))
	for i := range d.nodes {
		if !d.nodes[i].disposed {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// Scene returns scene i, or nil if out of range.
func (d *Document) Scene(i int) *Scene {
	if i < 0 || i >= len(d.scenes) {
		return nil
	}
	return &d.scenes[i]
}

// NumScenes returns the number of scenes.
func (d *Document) NumScenes() int {
	return len(d.scenes)
}

// Detach removes a live node from its owner: the parent node's children,
// or, for a top-level node, every scene that lists it. The node itself
// stays live.
func (d *Document) Detach(id NodeID) error {
	n := d.Node(id)
	if n == nil || n.disposed {
		return invariantf("detach of dead node %d", id)
	}
	if n.parent != NoNode {
		p := d.Node(n.parent)
		if p == nil || p.disposed {
			return invariantf("node %d has dead parent %d", id, n.parent)
		}
		i := slices.Index(p.children, id)
		if i < 0 {
			return invariantf("node %d claims parent %d which does not list it", id, n.parent)
		}
		p.children = slices.Delete(p.children, i, i+1)
		n.parent = NoNode
		return nil
	}
	for i := range d.scenes {
		s := &d.scenes[i]
		s.roots = slices.DeleteFunc(s.roots, func(r NodeID) bool { return r == id })
	}
	return nil
}

// DisposeNode detaches a node and removes it permanently. Its children,
// if any, are left without a parent.
func (d *Document) DisposeNode(id NodeID) error {
	if err := d.Detach(id); err != nil {
		return err
	}
	n := &d.nodes[id]
	for _, c := range n.children {
		if cn := d.Node(c); cn != nil && cn.parent == id {
			cn.parent = NoNode
		}
	}
	n.children = nil
	n.Mesh, n.Camera, n.Light, n.Skin = NoResource, NoResource, NoResource, NoResource
	n.disposed = true
	return nil
}

// Stats holds live entity counts.
type Stats struct {
	Scenes    int
	Nodes     int
	Resources map[Kind]int
}

// Stats counts live nodes and resources.
func (d *Document) Stats() Stats {
	st := Stats{
		Scenes:    len(d.scenes),
		Resources: make(map[Kind]int, int(kindCount)),
	}
	for i := range d.nodes {
		if !d.nodes[i].disposed {
			st.Nodes++
		}
	}
	for i := range d.resources {
		if r := &d.resources[i]; !r.disposed {
			st.Resources[r.Kind]++
		}
	}
	return st
}

// String formats the stats as "scenes=1 nodes=3 mesh=1 ...", skipping zero kinds.
func (s Stats) String() string {
	out := fmt.Sprintf("scenes=%d nodes=%d", s.Scenes, s.Nodes)
	for _, k := range Kinds() {
		if n := s.Resources[k]; n > 0 {
			out += fmt.Sprintf(" %s=%d", k, n)
		}
	}
	return out
}

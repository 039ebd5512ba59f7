package formats

import (
	"github.com/qmuntal/gltf"

	"github.com/Faultbox/glbclean/pkg/math"
	"github.com/Faultbox/glbclean/pkg/scene"
)

// Bounds returns the world-space box around the mesh geometry still placed
// in the scene model. It reads the POSITION accessor min/max of every
// primitive and ignores skinning and morph targets. The box is empty when
// no live node carries a mesh with bounded positions.
func (g *GLTF) Bounds() math.Box {
	box := math.EmptyBox()
	seen := make(map[scene.NodeID]bool)
	for si := range g.Doc.NumScenes() {
		for _, root := range g.Doc.Scene(si).Roots() {
			box = box.Union(g.nodeBounds(root, math.Identity(), seen))
		}
	}
	return box
}

// nodeBounds visits each node once, so a hierarchy that was corrupted after
// decoding cannot loop.
func (g *GLTF) nodeBounds(id scene.NodeID, parent math.Mat4, seen map[scene.NodeID]bool) math.Box {
	n := g.Doc.Node(id)
	if n == nil || n.Disposed() || seen[id] {
		return math.EmptyBox()
	}
	seen[id] = true
	world := parent
	if n.Origin >= 0 && n.Origin < len(g.src.Nodes) {
		world = parent.Mul(nodeMatrix(g.src.Nodes[n.Origin]))
	}

	box := math.EmptyBox()
	if n.Mesh != scene.NoResource {
		box = g.meshBounds(n.Mesh).Transform(world)
	}
	for _, c := range n.Children() {
		box = box.Union(g.nodeBounds(c, world, seen))
	}
	return box
}

func (g *GLTF) meshBounds(id scene.ResourceID) math.Box {
	box := math.EmptyBox()
	r := g.Doc.Resource(id)
	if r == nil || r.Disposed() || r.Origin < 0 || r.Origin >= len(g.src.Meshes) {
		return box
	}
	for _, p := range g.src.Meshes[r.Origin].Primitives {
		ai, ok := p.Attributes[gltf.POSITION]
		if !ok || ai < 0 || ai >= len(g.src.Accessors) {
			continue
		}
		acc := g.src.Accessors[ai]
		if len(acc.Min) < 3 || len(acc.Max) < 3 {
			continue
		}
		box = box.Union(math.Box{
			Min: math.Vec3{X: acc.Min[0], Y: acc.Min[1], Z: acc.Min[2]},
			Max: math.Vec3{X: acc.Max[0], Y: acc.Max[1], Z: acc.Max[2]},
		})
	}
	return box
}

// nodeMatrix returns the local transform of n. A matrix other than zero or
// identity wins over TRS; unset rotation and scale fall back to their glTF
// defaults.
func nodeMatrix(n *gltf.Node) math.Mat4 {
	if m := math.Mat4(n.Matrix); m != (math.Mat4{}) && m != math.Identity() {
		return m
	}
	s := n.Scale
	if s == [3]float64{} {
		s = [3]float64{1, 1, 1}
	}
	return math.FromTRS(math.Vec3From(n.Translation), math.QuatFrom(n.Rotation), math.Vec3From(s))
}

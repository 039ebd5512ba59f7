package formats

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/glbclean/pkg/scene"
)

// bufferAlign is the byte alignment of repacked buffer views.
const bufferAlign = 4

// encoder maps surviving entities to their compacted glTF indices.
type encoder struct {
	g     *GLTF
	res   map[scene.Kind][]int // origin index -> new index, -1 when gone
	nodes []int                // NodeID -> new index, -1 when gone
}

func newEncoder(g *GLTF) *encoder {
	e := &encoder{g: g, res: make(map[scene.Kind][]int)}
	for k, ids := range g.ids {
		m := make([]int, len(ids))
		next := 0
		for i, id := range ids {
			m[i] = -1
			if !g.Doc.Resource(id).Disposed() {
				m[i] = next
				next++
			}
		}
		e.res[k] = m
	}
	e.nodes = make([]int, g.Doc.NumNodes())
	next := 0
	for i := range e.nodes {
		e.nodes[i] = -1
		if !g.Doc.IsDisposed(scene.NodeID(i)) {
			e.nodes[i] = next
			next++
		}
	}
	return e
}

func (e *encoder) live(k scene.Kind, i int) bool {
	return e.res[k][i] >= 0
}

// index maps a source index of kind k to its new index.
func (e *encoder) index(k scene.Kind, i int) (int, error) {
	m := e.res[k]
	if i < 0 || i >= len(m) || m[i] < 0 {
		return 0, fmt.Errorf("%w: %s %d was removed but is still referenced", ErrInvalidReference, k, i)
	}
	return m[i], nil
}

func (e *encoder) indexPtr(k scene.Kind, p *int) (*int, error) {
	if p == nil {
		return nil, nil
	}
	i, err := e.index(k, *p)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// attachment maps a node attachment handle to its new index.
func (e *encoder) attachment(id scene.ResourceID, k scene.Kind) (*int, error) {
	if id == scene.NoResource {
		return nil, nil
	}
	r := e.g.Doc.Resource(id)
	if r == nil || r.Kind != k || r.Origin < 0 {
		return nil, fmt.Errorf("%w: %s handle %d", ErrNoOrigin, k, id)
	}
	return e.indexPtr(k, &r.Origin)
}

// node maps a node handle to its new index, or -1 if it was removed.
func (e *encoder) node(id scene.NodeID) int {
	if id < 0 || int(id) >= len(e.nodes) {
		return -1
	}
	return e.nodes[id]
}

func (e *encoder) rewrite(refs []jsonRef) error {
	for _, r := range refs {
		i, ok := r.index()
		if !ok {
			continue
		}
		ni, err := e.index(r.kind, i)
		if err != nil {
			return err
		}
		r.set(ni)
	}
	return nil
}

// Encode builds a compact glTF document from the live part of the model.
// Removed entries are dropped and every index is remapped; buffers are
// repacked so that bytes of removed buffer views are reclaimed.
func (g *GLTF) Encode() (*gltf.Document, error) {
	e := newEncoder(g)
	src := g.src
	out := &gltf.Document{
		Asset:              src.Asset,
		Extras:             src.Extras,
		Extensions:         maps.Clone(src.Extensions),
		ExtensionsUsed:     slices.Clone(src.ExtensionsUsed),
		ExtensionsRequired: slices.Clone(src.ExtensionsRequired),
	}
	if d := g.Doc.DefaultScene; d >= 0 {
		out.Scene = gltf.Index(d)
	}

	steps := []func(*gltf.Document) error{
		e.buffers,
		e.accessors,
		e.images,
		e.textures,
		e.materials,
		e.meshes,
		e.skins,
		e.animations,
		e.nodesAndScenes,
		e.lights,
	}
	for _, step := range steps {
		if err := step(out); err != nil {
			return nil, fmt.Errorf("encoding glTF: %w", err)
		}
	}
	for i, c := range src.Cameras {
		if e.live(scene.KindCamera, i) {
			out.Cameras = append(out.Cameras, c)
		}
	}
	for i, s := range src.Samplers {
		if e.live(scene.KindSampler, i) {
			out.Samplers = append(out.Samplers, s)
		}
	}
	if len(out.Extensions) == 0 {
		out.Extensions = nil
	}
	return out, nil
}

func (e *encoder) buffers(out *gltf.Document) error {
	for i, b := range e.g.src.Buffers {
		if e.live(scene.KindBuffer, i) {
			cp := *b
			out.Buffers = append(out.Buffers, &cp)
		}
	}
	for i, v := range e.g.src.BufferViews {
		if !e.live(scene.KindBufferView, i) {
			continue
		}
		cp := *v
		var err error
		if cp.Buffer, err = e.index(scene.KindBuffer, v.Buffer); err != nil {
			return err
		}
		out.BufferViews = append(out.BufferViews, &cp)
	}
	return repackBuffers(out)
}

func (e *encoder) accessors(out *gltf.Document) error {
	for i, a := range e.g.src.Accessors {
		if !e.live(scene.KindAccessor, i) {
			continue
		}
		cp := *a
		var err error
		if cp.BufferView, err = e.indexPtr(scene.KindBufferView, a.BufferView); err != nil {
			return err
		}
		if a.Sparse != nil {
			sp := *a.Sparse
			if sp.Indices.BufferView, err = e.index(scene.KindBufferView, sp.Indices.BufferView); err != nil {
				return err
			}
			if sp.Values.BufferView, err = e.index(scene.KindBufferView, sp.Values.BufferView); err != nil {
				return err
			}
			cp.Sparse = &sp
		}
		out.Accessors = append(out.Accessors, &cp)
	}
	return nil
}

func (e *encoder) images(out *gltf.Document) error {
	for i, img := range e.g.src.Images {
		if !e.live(scene.KindImage, i) {
			continue
		}
		cp := *img
		var err error
		if cp.BufferView, err = e.indexPtr(scene.KindBufferView, img.BufferView); err != nil {
			return err
		}
		out.Images = append(out.Images, &cp)
	}
	return nil
}

func (e *encoder) textures(out *gltf.Document) error {
	for i, t := range e.g.src.Textures {
		if !e.live(scene.KindTexture, i) {
			continue
		}
		tree, err := toTree(t)
		if err != nil {
			return err
		}
		if err := e.rewrite(textureRefs(tree)); err != nil {
			return fmt.Errorf("texture %d: %w", i, err)
		}
		var cp gltf.Texture
		if err := fromTree(tree, &cp); err != nil {
			return err
		}
		out.Textures = append(out.Textures, &cp)
	}
	return nil
}

func (e *encoder) materials(out *gltf.Document) error {
	for i, m := range e.g.src.Materials {
		if !e.live(scene.KindMaterial, i) {
			continue
		}
		tree, err := toTree(m)
		if err != nil {
			return err
		}
		if err := e.rewrite(materialRefs(tree)); err != nil {
			return fmt.Errorf("material %d: %w", i, err)
		}
		var cp gltf.Material
		if err := fromTree(tree, &cp); err != nil {
			return err
		}
		out.Materials = append(out.Materials, &cp)
	}
	return nil
}

func (e *encoder) meshes(out *gltf.Document) error {
	for i, m := range e.g.src.Meshes {
		if !e.live(scene.KindMesh, i) {
			continue
		}
		cp := *m
		cp.Primitives = make([]*gltf.Primitive, 0, len(m.Primitives))
		for _, p := range m.Primitives {
			pc := *p
			var err error
			if pc.Material, err = e.indexPtr(scene.KindMaterial, p.Material); err != nil {
				return err
			}
			if pc.Indices, err = e.indexPtr(scene.KindAccessor, p.Indices); err != nil {
				return err
			}
			pc.Attributes = maps.Clone(p.Attributes)
			for name, a := range pc.Attributes {
				if pc.Attributes[name], err = e.index(scene.KindAccessor, a); err != nil {
					return err
				}
			}
			pc.Targets = slices.Clone(p.Targets)
			for ti := range pc.Targets {
				pc.Targets[ti] = maps.Clone(pc.Targets[ti])
				for name, a := range pc.Targets[ti] {
					if pc.Targets[ti][name], err = e.index(scene.KindAccessor, a); err != nil {
						return err
					}
				}
			}
			cp.Primitives = append(cp.Primitives, &pc)
		}
		out.Meshes = append(out.Meshes, &cp)
	}
	return nil
}

func (e *encoder) skins(out *gltf.Document) error {
	for i, s := range e.g.src.Skins {
		if !e.live(scene.KindSkin, i) {
			continue
		}
		cp := *s
		var err error
		if cp.InverseBindMatrices, err = e.indexPtr(scene.KindAccessor, s.InverseBindMatrices); err != nil {
			return err
		}
		cp.Joints = nil
		for _, j := range s.Joints {
			if nj := e.node(scene.NodeID(j)); nj >= 0 {
				cp.Joints = append(cp.Joints, nj)
			}
		}
		cp.Skeleton = nil
		if s.Skeleton != nil {
			if ns := e.node(scene.NodeID(*s.Skeleton)); ns >= 0 {
				cp.Skeleton = &ns
			}
		}
		out.Skins = append(out.Skins, &cp)
	}
	return nil
}

func (e *encoder) animations(out *gltf.Document) error {
	for i, a := range e.g.src.Animations {
		if !e.live(scene.KindAnimation, i) {
			continue
		}
		cp := *a
		cp.Channels = nil
		cp.Samplers = nil
		// Samplers no surviving channel uses are dropped.
		samplers := make(map[int]int)
		for _, ch := range a.Channels {
			c := *ch
			if ch.Target.Node != nil {
				n := e.node(scene.NodeID(*ch.Target.Node))
				if n < 0 {
					continue
				}
				c.Target.Node = &n
			}
			si, ok := samplers[ch.Sampler]
			if !ok {
				if ch.Sampler < 0 || ch.Sampler >= len(a.Samplers) {
					return fmt.Errorf("%w: animation %d channel sampler %d", ErrInvalidReference, i, ch.Sampler)
				}
				sc := *a.Samplers[ch.Sampler]
				var err error
				if sc.Input, err = e.index(scene.KindAccessor, sc.Input); err != nil {
					return err
				}
				if sc.Output, err = e.index(scene.KindAccessor, sc.Output); err != nil {
					return err
				}
				si = len(cp.Samplers)
				samplers[ch.Sampler] = si
				cp.Samplers = append(cp.Samplers, &sc)
			}
			c.Sampler = si
			cp.Channels = append(cp.Channels, &c)
		}
		out.Animations = append(out.Animations, &cp)
	}
	return nil
}

func (e *encoder) nodesAndScenes(out *gltf.Document) error {
	doc := e.g.Doc
	for _, id := range doc.LiveNodes() {
		n := doc.Node(id)
		if n.Origin < 0 || n.Origin >= len(e.g.src.Nodes) {
			return fmt.Errorf("%w: node %d", ErrNoOrigin, id)
		}
		raw := e.g.src.Nodes[n.Origin]
		cp := *raw
		var err error
		if cp.Mesh, err = e.attachment(n.Mesh, scene.KindMesh); err != nil {
			return err
		}
		if cp.Camera, err = e.attachment(n.Camera, scene.KindCamera); err != nil {
			return err
		}
		if cp.Skin, err = e.attachment(n.Skin, scene.KindSkin); err != nil {
			return err
		}
		cp.Children = nil
		for _, c := range n.Children() {
			nc := e.node(c)
			if nc < 0 {
				return fmt.Errorf("%w: node %d has removed child %d", ErrInvalidReference, id, c)
			}
			cp.Children = append(cp.Children, nc)
		}

		cp.Extensions = maps.Clone(raw.Extensions)
		delete(cp.Extensions, LightsExtension)
		light, err := e.attachment(n.Light, scene.KindLight)
		if err != nil {
			return err
		}
		if light != nil {
			if cp.Extensions == nil {
				cp.Extensions = make(gltf.Extensions)
			}
			cp.Extensions[LightsExtension] = map[string]any{"light": *light}
		}
		if len(cp.Extensions) == 0 {
			cp.Extensions = nil
		}
		out.Nodes = append(out.Nodes, &cp)
	}

	for si := range doc.NumScenes() {
		s := doc.Scene(si)
		cp := *e.g.src.Scenes[s.Origin]
		cp.Nodes = nil
		for _, r := range s.Roots() {
			nr := e.node(r)
			if nr < 0 {
				return fmt.Errorf("%w: scene %d has removed root %d", ErrInvalidReference, si, r)
			}
			cp.Nodes = append(cp.Nodes, nr)
		}
		out.Scenes = append(out.Scenes, &cp)
	}
	return nil
}

func (e *encoder) lights(out *gltf.Document) error {
	var kept []json.RawMessage
	for i, l := range e.g.lights {
		if e.live(scene.KindLight, i) {
			kept = append(kept, l)
		}
	}
	if len(kept) > 0 {
		if out.Extensions == nil {
			out.Extensions = make(gltf.Extensions)
		}
		out.Extensions[LightsExtension] = map[string]any{"lights": kept}
		return nil
	}
	delete(out.Extensions, LightsExtension)
	drop := func(s string) bool { return s == LightsExtension }
	out.ExtensionsUsed = slices.DeleteFunc(out.ExtensionsUsed, drop)
	out.ExtensionsRequired = slices.DeleteFunc(out.ExtensionsRequired, drop)
	return nil
}

// repackBuffers rebuilds each loaded buffer from the views that still point
// at it. Buffers whose views overlap are left untouched.
func repackBuffers(doc *gltf.Document) error {
	for bi, b := range doc.Buffers {
		if len(b.Data) == 0 {
			continue
		}
		var views []*gltf.BufferView
		for _, v := range doc.BufferViews {
			if v.Buffer != bi {
				continue
			}
			if v.ByteOffset < 0 || v.ByteOffset+v.ByteLength > len(b.Data) {
				return fmt.Errorf("%w: view [%d:%d] of buffer %d (%d bytes)",
					ErrTruncatedBuffer, v.ByteOffset, v.ByteOffset+v.ByteLength, bi, len(b.Data))
			}
			views = append(views, v)
		}
		if overlapping(views) {
			continue
		}

		data := make([]byte, 0, len(b.Data))
		for _, v := range views {
			for len(data)%bufferAlign != 0 {
				data = append(data, 0)
			}
			chunk := b.Data[v.ByteOffset : v.ByteOffset+v.ByteLength]
			v.ByteOffset = len(data)
			data = append(data, chunk...)
		}
		b.Data = data
		b.ByteLength = len(data)
		if strings.HasPrefix(b.URI, "data:") {
			b.URI = dataURI(data)
		}
	}
	return nil
}

func overlapping(views []*gltf.BufferView) bool {
	sorted := slices.Clone(views)
	slices.SortFunc(sorted, func(a, b *gltf.BufferView) int { return cmp.Compare(a.ByteOffset, b.ByteOffset) })
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		if prev.ByteOffset+prev.ByteLength > sorted[i].ByteOffset {
			return true
		}
	}
	return false
}

func dataURI(data []byte) string {
	return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(data)
}

// embedBuffers gives URI-less buffers a data URI so JSON output is self-contained.
func embedBuffers(doc *gltf.Document) {
	for _, b := range doc.Buffers {
		if b.URI == "" && len(b.Data) > 0 {
			b.URI = dataURI(b.Data)
		}
	}
}

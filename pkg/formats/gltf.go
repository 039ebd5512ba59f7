// glTF 2.0 (.gltf/.glb) adapter between github.com/qmuntal/gltf documents
// and the scene model.

package formats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Faultbox/glbclean/pkg/scene"
)

// LightsExtension is the punctual-lights extension stripped by the cleaner.
const LightsExtension = "KHR_lights_punctual"

// glTF adapter errors.
var (
	ErrInvalidReference = errors.New("invalid glTF reference")
	ErrNoScene          = errors.New("glTF document has no scene")
	ErrNoOrigin         = errors.New("entity has no glTF origin")
	ErrTruncatedBuffer  = errors.New("buffer view exceeds buffer data")
)

// GLTF pairs a decoded glTF document with its scene model. The model is
// mutated by the cleaner; Encode rebuilds a glTF document from what is left.
type GLTF struct {
	Doc *scene.Document

	src    *gltf.Document
	dir    string // resolves relative image URIs, empty when unknown
	lights []json.RawMessage
	ids    map[scene.Kind][]scene.ResourceID
}

// IsGLTFFile reports whether path has a .glb or .gltf extension.
func IsGLTFFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".glb" || ext == ".gltf"
}

func isBinaryPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".glb")
}

// ReadGLTF reads a .gltf or .glb file, resolving external buffers relative to it.
func ReadGLTF(path string) (*GLTF, error) {
	src, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading glTF file: %w", err)
	}
	g, err := FromDocument(src)
	if err != nil {
		return nil, err
	}
	g.dir = filepath.Dir(path)
	return g, nil
}

// DecodeGLTF decodes a glTF stream. External resources resolve against dir.
func DecodeGLTF(r io.Reader, dir string) (*GLTF, error) {
	if dir == "" {
		dir = "."
	}
	var src gltf.Document
	if err := gltf.NewDecoderFS(r, os.DirFS(dir)).Decode(&src); err != nil {
		return nil, fmt.Errorf("decoding glTF: %w", err)
	}
	g, err := FromDocument(&src)
	if err != nil {
		return nil, err
	}
	g.dir = dir
	return g, nil
}

// FromDocument builds the scene model for src. Node i of src becomes
// scene.NodeID(i); resources keep their per-kind index as Origin.
// src must not be modified while the returned GLTF is in use. Relative
// image URIs cannot be resolved for documents built this way.
func FromDocument(src *gltf.Document) (*GLTF, error) {
	if len(src.Scenes) == 0 {
		return nil, ErrNoScene
	}
	g := &GLTF{
		Doc: scene.New(),
		src: src,
		ids: make(map[scene.Kind][]scene.ResourceID),
	}
	if err := g.readLights(); err != nil {
		return nil, err
	}
	g.addResources()
	if err := g.linkResources(); err != nil {
		return nil, err
	}
	if err := g.addNodes(); err != nil {
		return nil, err
	}
	if src.Scene != nil {
		if *src.Scene < 0 || *src.Scene >= len(src.Scenes) {
			return nil, fmt.Errorf("%w: default scene %d", ErrInvalidReference, *src.Scene)
		}
		g.Doc.DefaultScene = *src.Scene
	}
	for si, s := range src.Scenes {
		idx := g.Doc.AddScene(s.Name)
		g.Doc.Scene(idx).Origin = si
		for _, root := range s.Nodes {
			if root < 0 || root >= len(src.Nodes) {
				return nil, fmt.Errorf("%w: scene %d root %d", ErrInvalidReference, si, root)
			}
			if err := g.Doc.AddRoot(idx, scene.NodeID(root)); err != nil {
				return nil, err
			}
		}
	}
	for _, ext := range src.ExtensionsUsed {
		if !followable(ext) {
			g.Doc.Opaque = append(g.Doc.Opaque, ext)
		}
	}
	// Shared children and child cycles are rejected here, before anything
	// walks the hierarchy.
	if err := g.Doc.Validate(); err != nil {
		return nil, fmt.Errorf("glTF node hierarchy: %w", err)
	}
	return g, nil
}

// followable reports whether the adapter knows every reference ext can carry.
func followable(ext string) bool {
	switch ext {
	case LightsExtension, "KHR_texture_transform", "KHR_mesh_quantization",
		"KHR_texture_basisu", "EXT_texture_webp", "EXT_texture_avif":
		return true
	case "KHR_materials_variants":
		// Mappings on primitives point at materials.
		return false
	}
	return strings.HasPrefix(ext, "KHR_materials_")
}

func (g *GLTF) readLights() error {
	v, ok := g.src.Extensions[LightsExtension]
	if !ok {
		return nil
	}
	var payload struct {
		Lights []json.RawMessage `json:"lights"`
	}
	if err := decodeExtension(v, &payload); err != nil {
		return fmt.Errorf("decoding %s: %w", LightsExtension, err)
	}
	g.lights = payload.Lights
	return nil
}

func (g *GLTF) count(k scene.Kind) int {
	s := g.src
	switch k {
	case scene.KindMesh:
		return len(s.Meshes)
	case scene.KindMaterial:
		return len(s.Materials)
	case scene.KindTexture:
		return len(s.Textures)
	case scene.KindImage:
		return len(s.Images)
	case scene.KindSampler:
		return len(s.Samplers)
	case scene.KindAccessor:
		return len(s.Accessors)
	case scene.KindBufferView:
		return len(s.BufferViews)
	case scene.KindBuffer:
		return len(s.Buffers)
	case scene.KindCamera:
		return len(s.Cameras)
	case scene.KindLight:
		return len(g.lights)
	case scene.KindSkin:
		return len(s.Skins)
	case scene.KindAnimation:
		return len(s.Animations)
	}
	return 0
}

func (g *GLTF) name(k scene.Kind, i int) string {
	s := g.src
	switch k {
	case scene.KindMesh:
		return s.Meshes[i].Name
	case scene.KindMaterial:
		return s.Materials[i].Name
	case scene.KindTexture:
		return s.Textures[i].Name
	case scene.KindImage:
		return s.Images[i].Name
	case scene.KindAccessor:
		return s.Accessors[i].Name
	case scene.KindBufferView:
		return s.BufferViews[i].Name
	case scene.KindBuffer:
		return s.Buffers[i].Name
	case scene.KindCamera:
		return s.Cameras[i].Name
	case scene.KindSkin:
		return s.Skins[i].Name
	case scene.KindAnimation:
		return s.Animations[i].Name
	}
	return ""
}

func (g *GLTF) addResources() {
	for _, k := range scene.Kinds() {
		n := g.count(k)
		ids := make([]scene.ResourceID, n)
		for i := range n {
			id := g.Doc.AddResource(k, g.name(k, i))
			g.Doc.Resource(id).Origin = i
			ids[i] = id
		}
		g.ids[k] = ids
	}
}

func (g *GLTF) ref(k scene.Kind, i int) (scene.ResourceID, error) {
	ids := g.ids[k]
	if i < 0 || i >= len(ids) {
		return scene.NoResource, fmt.Errorf("%w: %s %d", ErrInvalidReference, k, i)
	}
	return ids[i], nil
}

func (g *GLTF) refPtr(k scene.Kind, p *int) (scene.ResourceID, error) {
	if p == nil {
		return scene.NoResource, nil
	}
	return g.ref(k, *p)
}

// refs accumulates the distinct outgoing edges of one resource.
type refs struct {
	g   *GLTF
	ids []scene.ResourceID
	err error
}

func (r *refs) add(k scene.Kind, i int) {
	if r.err != nil {
		return
	}
	id, err := r.g.ref(k, i)
	if err != nil {
		r.err = err
		return
	}
	if !slices.Contains(r.ids, id) {
		r.ids = append(r.ids, id)
	}
}

func (r *refs) addPtr(k scene.Kind, p *int) {
	if p != nil {
		r.add(k, *p)
	}
}

func (r *refs) addJSON(jr []jsonRef) {
	for _, ref := range jr {
		if i, ok := ref.index(); ok {
			r.add(ref.kind, i)
		}
	}
}

func (g *GLTF) set(k scene.Kind, i int, r *refs) error {
	if r.err != nil {
		return fmt.Errorf("%s %d: %w", k, i, r.err)
	}
	g.Doc.Resource(g.ids[k][i]).Refs = r.ids
	return nil
}

func (g *GLTF) linkResources() error {
	s := g.src
	for i, m := range s.Meshes {
		r := &refs{g: g}
		for _, p := range m.Primitives {
			r.addPtr(scene.KindMaterial, p.Material)
			r.addPtr(scene.KindAccessor, p.Indices)
			for _, a := range slices.Sorted(maps.Values(p.Attributes)) {
				r.add(scene.KindAccessor, a)
			}
			for _, t := range p.Targets {
				for _, a := range slices.Sorted(maps.Values(t)) {
					r.add(scene.KindAccessor, a)
				}
			}
		}
		if err := g.set(scene.KindMesh, i, r); err != nil {
			return err
		}
	}
	for i, m := range s.Materials {
		tree, err := toTree(m)
		if err != nil {
			return fmt.Errorf("material %d: %w", i, err)
		}
		r := &refs{g: g}
		r.addJSON(materialRefs(tree))
		if err := g.set(scene.KindMaterial, i, r); err != nil {
			return err
		}
	}
	for i, t := range s.Textures {
		tree, err := toTree(t)
		if err != nil {
			return fmt.Errorf("texture %d: %w", i, err)
		}
		r := &refs{g: g}
		r.addJSON(textureRefs(tree))
		if err := g.set(scene.KindTexture, i, r); err != nil {
			return err
		}
	}
	for i, img := range s.Images {
		r := &refs{g: g}
		r.addPtr(scene.KindBufferView, img.BufferView)
		if err := g.set(scene.KindImage, i, r); err != nil {
			return err
		}
	}
	for i, a := range s.Accessors {
		r := &refs{g: g}
		r.addPtr(scene.KindBufferView, a.BufferView)
		if a.Sparse != nil {
			r.add(scene.KindBufferView, a.Sparse.Indices.BufferView)
			r.add(scene.KindBufferView, a.Sparse.Values.BufferView)
		}
		if err := g.set(scene.KindAccessor, i, r); err != nil {
			return err
		}
	}
	for i, v := range s.BufferViews {
		r := &refs{g: g}
		r.add(scene.KindBuffer, v.Buffer)
		if err := g.set(scene.KindBufferView, i, r); err != nil {
			return err
		}
	}
	for i, sk := range s.Skins {
		r := &refs{g: g}
		r.addPtr(scene.KindAccessor, sk.InverseBindMatrices)
		if err := g.set(scene.KindSkin, i, r); err != nil {
			return err
		}
		nodes := slices.Clone(sk.Joints)
		if sk.Skeleton != nil {
			nodes = append(nodes, *sk.Skeleton)
		}
		if err := g.setNodes(scene.KindSkin, i, nodes); err != nil {
			return err
		}
	}
	for i, a := range s.Animations {
		if err := g.linkAnimation(i, a); err != nil {
			return err
		}
	}
	return nil
}

// linkAnimation records the sampler accessors of each node-targeting channel
// as a target of that node, so they stay only while the node does. Channels
// without a node keep their accessors unconditionally.
func (g *GLTF) linkAnimation(i int, a *gltf.Animation) error {
	r := &refs{g: g}
	var nodes []int
	byNode := make(map[int]*refs)
	for _, ch := range a.Channels {
		if ch.Sampler < 0 || ch.Sampler >= len(a.Samplers) {
			return fmt.Errorf("%w: animation %d channel sampler %d", ErrInvalidReference, i, ch.Sampler)
		}
		sm := a.Samplers[ch.Sampler]
		dst := r
		if ch.Target.Node != nil {
			n := *ch.Target.Node
			if byNode[n] == nil {
				byNode[n] = &refs{g: g}
				nodes = append(nodes, n)
			}
			dst = byNode[n]
		}
		dst.add(scene.KindAccessor, sm.Input)
		dst.add(scene.KindAccessor, sm.Output)
	}
	if err := g.set(scene.KindAnimation, i, r); err != nil {
		return err
	}
	if err := g.setNodes(scene.KindAnimation, i, nodes); err != nil {
		return err
	}
	res := g.Doc.Resource(g.ids[scene.KindAnimation][i])
	for _, n := range nodes {
		tr := byNode[n]
		if tr.err != nil {
			return fmt.Errorf("%s %d: %w", scene.KindAnimation, i, tr.err)
		}
		res.Targets = append(res.Targets, scene.Target{Node: scene.NodeID(n), Refs: tr.ids})
	}
	return nil
}

func (g *GLTF) setNodes(k scene.Kind, i int, nodes []int) error {
	res := g.Doc.Resource(g.ids[k][i])
	for _, n := range nodes {
		if n < 0 || n >= len(g.src.Nodes) {
			return fmt.Errorf("%w: %s %d references node %d", ErrInvalidReference, k, i, n)
		}
		if id := scene.NodeID(n); !slices.Contains(res.Nodes, id) {
			res.Nodes = append(res.Nodes, id)
		}
	}
	return nil
}

func (g *GLTF) addNodes() error {
	s := g.src
	for i, n := range s.Nodes {
		id := g.Doc.AddNode(n.Name)
		g.Doc.Node(id).Origin = i
	}
	for i, n := range s.Nodes {
		id := scene.NodeID(i)
		light, err := nodeLight(n)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		attachments := []struct {
			kind scene.Kind
			idx  *int
			set  func(scene.NodeID, scene.ResourceID) error
		}{
			{scene.KindMesh, n.Mesh, g.Doc.SetMesh},
			{scene.KindCamera, n.Camera, g.Doc.SetCamera},
			{scene.KindSkin, n.Skin, g.Doc.SetSkin},
			{scene.KindLight, light, g.Doc.SetLight},
		}
		for _, a := range attachments {
			rid, err := g.refPtr(a.kind, a.idx)
			if err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
			if err := a.set(id, rid); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
		}
		for _, c := range n.Children {
			if c < 0 || c >= len(s.Nodes) {
				return fmt.Errorf("%w: node %d child %d", ErrInvalidReference, i, c)
			}
			if err := g.Doc.AddChild(id, scene.NodeID(c)); err != nil {
				return err
			}
		}
	}
	return nil
}

func nodeLight(n *gltf.Node) (*int, error) {
	v, ok := n.Extensions[LightsExtension]
	if !ok {
		return nil, nil
	}
	var payload struct {
		Light *int `json:"light"`
	}
	if err := decodeExtension(v, &payload); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", LightsExtension, err)
	}
	return payload.Light, nil
}

// WriteFile encodes the cleaned document to path: binary for .glb, JSON
// with embedded buffers otherwise. Images referenced by relative URI are
// copied next to it.
func (g *GLTF) WriteFile(path string) error {
	out, err := g.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if isBinaryPath(path) {
		err = gltf.SaveBinary(out, path)
	} else {
		embedBuffers(out)
		err = gltf.Save(out, path)
	}
	if err != nil {
		return err
	}
	_, err = g.CopyImages(filepath.Dir(path))
	return err
}

// ImageFiles returns the relative URIs of the live images stored as files
// beside the source document, decoded to slash paths. URIs that are data,
// absolute, carry a scheme or leave the source directory are skipped.
func (g *GLTF) ImageFiles() []string {
	var files []string
	for i, id := range g.ids[scene.KindImage] {
		if g.Doc.Resource(id).Disposed() {
			continue
		}
		if name, ok := localURI(g.src.Images[i].URI); ok && !slices.Contains(files, name) {
			files = append(files, name)
		}
	}
	return files
}

func localURI(uri string) (string, bool) {
	if uri == "" || strings.HasPrefix(uri, "data:") || strings.Contains(uri, "://") {
		return "", false
	}
	name, err := url.PathUnescape(uri)
	if err != nil || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", false
	}
	return name, true
}

// CopyImages copies the files listed by ImageFiles from the source
// directory into dir, keeping their relative layout, and returns the
// copied names. Images missing from the source are skipped.
func (g *GLTF) CopyImages(dir string) ([]string, error) {
	if g.dir == "" {
		return nil, nil
	}
	var copied []string
	for _, name := range g.ImageFiles() {
		src := filepath.Join(g.dir, filepath.FromSlash(name))
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if samePath(src, dst) {
			continue
		}
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return copied, fmt.Errorf("copying image %s: %w", name, err)
		}
		copied = append(copied, name)
	}
	return copied, nil
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Write encodes the cleaned document to w.
func (g *GLTF) Write(w io.Writer, binary bool) error {
	out, err := g.Encode()
	if err != nil {
		return err
	}
	if !binary {
		embedBuffers(out)
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = binary
	return enc.Encode(out)
}

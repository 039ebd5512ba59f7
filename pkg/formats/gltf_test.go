package formats

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/glbclean/internal/pipeline"
	"github.com/Faultbox/glbclean/pkg/scene"
)

// sceneGLTF is a small document exercising every cleaning step:
//
//	root ─┬─ cam   (camera 0)
//	      ├─ lamp  (light 0)
//	      └─ model (mesh 0 → material 0 → texture 0 → image 0, accessor 0 → view 0)
//	orphan (mesh 1 → material 1 → texture 1 → image 1, accessor 1 → view 1)
//
// Both views share buffer 0.
const sceneGLTF = `{
  "asset": {"version": "2.0"},
  "extensionsUsed": ["KHR_lights_punctual"],
  "extensions": {"KHR_lights_punctual": {"lights": [{"type": "point", "color": [1, 1, 1]}]}},
  "scene": 0,
  "scenes": [{"name": "main", "nodes": [0]}],
  "nodes": [
    {"name": "root", "children": [1, 2, 3]},
    {"name": "cam", "camera": 0},
    {"name": "lamp", "extensions": {"KHR_lights_punctual": {"light": 0}}},
    {"name": "model", "mesh": 0},
    {"name": "orphan", "mesh": 1}
  ],
  "cameras": [{"type": "perspective", "perspective": {"yfov": 1.0, "znear": 0.1}}],
  "meshes": [
    {"name": "kept", "primitives": [{"attributes": {"POSITION": 0}, "material": 0}]},
    {"name": "lost", "primitives": [{"attributes": {"POSITION": 1}, "material": 1}]}
  ],
  "materials": [
    {"name": "kept", "pbrMetallicRoughness": {"baseColorTexture": {"index": 0}}},
    {"name": "lost", "emissiveTexture": {"index": 1}}
  ],
  "textures": [{"source": 0}, {"source": 1}],
  "images": [{"uri": "kept.png"}, {"uri": "lost.png"}],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 1, "type": "VEC3"},
    {"bufferView": 1, "componentType": 5126, "count": 1, "type": "VEC3"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 12},
    {"buffer": 0, "byteOffset": 12, "byteLength": 12}
  ],
  "buffers": [{"byteLength": 24, "uri": "%s"}]
}`

// payload returns 24 bytes: 0..11 belong to view 0, 12..23 to view 1.
func payload() []byte {
	data := make([]byte, 24)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.gltf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func sceneFixture(t *testing.T) string {
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(payload())
	return writeFixture(t, fmt.Sprintf(sceneGLTF, uri))
}

func TestReadGLTF(t *testing.T) {
	g, err := ReadGLTF(sceneFixture(t))
	require.NoError(t, err)
	doc := g.Doc

	st := doc.Stats()
	assert.Equal(t, 1, st.Scenes)
	assert.Equal(t, 0, doc.DefaultScene)
	assert.Equal(t, 5, st.Nodes)
	for _, k := range []scene.Kind{scene.KindMesh, scene.KindMaterial, scene.KindTexture, scene.KindImage, scene.KindAccessor, scene.KindBufferView} {
		assert.Equal(t, 2, st.Resources[k], k.String())
	}
	assert.Equal(t, 1, st.Resources[scene.KindBuffer])
	assert.Equal(t, 1, st.Resources[scene.KindCamera])
	assert.Equal(t, 1, st.Resources[scene.KindLight])
	assert.Empty(t, doc.Opaque)

	root := doc.Node(0)
	assert.Equal(t, "root", root.Name)
	assert.Equal(t, []scene.NodeID{1, 2, 3}, root.Children())
	assert.NotEqual(t, scene.NoResource, doc.Node(1).Camera)
	assert.NotEqual(t, scene.NoResource, doc.Node(2).Light)
	assert.Equal(t, scene.KindLight, doc.Resource(doc.Node(2).Light).Kind)
	assert.Equal(t, scene.NoNode, doc.Node(4).Parent())
	assert.Equal(t, []scene.NodeID{0}, doc.Scene(0).Roots())

	mesh := doc.Resource(doc.Node(3).Mesh)
	assert.Equal(t, "kept", mesh.Name)
	require.Len(t, mesh.Refs, 2)
	assert.Equal(t, scene.KindMaterial, doc.Resource(mesh.Refs[0]).Kind)
	assert.Equal(t, scene.KindAccessor, doc.Resource(mesh.Refs[1]).Kind)

	mat := doc.Resource(mesh.Refs[0])
	require.Len(t, mat.Refs, 1)
	assert.Equal(t, scene.KindTexture, doc.Resource(mat.Refs[0]).Kind)
	assert.NoError(t, doc.Validate())
}

func TestEncodeAfterClean(t *testing.T) {
	g, err := ReadGLTF(sceneFixture(t))
	require.NoError(t, err)

	_, err = pipeline.Clean(g.Doc)
	require.NoError(t, err)

	out, err := g.Encode()
	require.NoError(t, err)

	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "root", out.Nodes[0].Name)
	assert.Equal(t, []int{1}, out.Nodes[0].Children)
	assert.Equal(t, "model", out.Nodes[1].Name)
	require.NotNil(t, out.Nodes[1].Mesh)
	assert.Equal(t, 0, *out.Nodes[1].Mesh)
	require.Len(t, out.Scenes, 1)
	assert.Equal(t, []int{0}, out.Scenes[0].Nodes)
	require.NotNil(t, out.Scene)
	assert.Equal(t, 0, *out.Scene)

	assert.Empty(t, out.Cameras)
	require.Len(t, out.Meshes, 1)
	assert.Equal(t, "kept", out.Meshes[0].Name)
	require.Len(t, out.Materials, 1)
	assert.Equal(t, "kept", out.Materials[0].Name)
	require.Len(t, out.Textures, 1)
	require.NotNil(t, out.Textures[0].Source)
	assert.Equal(t, 0, *out.Textures[0].Source)
	require.Len(t, out.Images, 1)
	assert.Equal(t, "kept.png", out.Images[0].URI)
	assert.Len(t, out.Accessors, 1)

	require.Len(t, out.BufferViews, 1)
	assert.Equal(t, 0, out.BufferViews[0].ByteOffset)
	require.Len(t, out.Buffers, 1)
	assert.Equal(t, 12, out.Buffers[0].ByteLength)
	assert.Equal(t, payload()[:12], out.Buffers[0].Data)

	_, hasLights := out.Extensions[LightsExtension]
	assert.False(t, hasLights)
	assert.NotContains(t, out.ExtensionsUsed, LightsExtension)

	// The source document is untouched.
	assert.Len(t, g.src.Nodes, 5)
	assert.Equal(t, 24, g.src.Buffers[0].ByteLength)
}

func TestWriteFileRoundTrip(t *testing.T) {
	g, err := ReadGLTF(sceneFixture(t))
	require.NoError(t, err)
	_, err = pipeline.Clean(g.Doc)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"out/clean.glb", "out/clean.gltf"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, g.WriteFile(path))

			back, err := ReadGLTF(path)
			require.NoError(t, err)
			st := back.Doc.Stats()
			assert.Equal(t, 2, st.Nodes)
			assert.Equal(t, 1, st.Resources[scene.KindMesh])
			assert.Equal(t, 0, st.Resources[scene.KindCamera])
			assert.Equal(t, 0, st.Resources[scene.KindLight])

			// A cleaned document is already clean.
			report, err := pipeline.Clean(back.Doc)
			require.NoError(t, err)
			assert.Zero(t, report.Prune.Removed)
			assert.Zero(t, report.Collect.Total())
		})
	}
}

func TestWriteJSONStream(t *testing.T) {
	g, err := ReadGLTF(sceneFixture(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.Write(&buf, false))
	assert.Contains(t, buf.String(), `"KHR_lights_punctual"`)
	assert.Contains(t, buf.String(), "data:application/octet-stream;base64,")

	back, err := DecodeGLTF(&buf, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 5, back.Doc.Stats().Nodes)
}

const extensionGLTF = `{
  "asset": {"version": "2.0"},
  "extensionsUsed": ["KHR_materials_clearcoat", "KHR_texture_basisu"],
  "scenes": [{"nodes": [0]}],
  "nodes": [{"mesh": 0}],
  "meshes": [{"primitives": [{"attributes": {}, "material": 0}]}],
  "materials": [{"extensions": {"KHR_materials_clearcoat": {"clearcoatTexture": {"index": 1}}}}],
  "textures": [
    {"source": 0},
    {"extensions": {"KHR_texture_basisu": {"source": 2}}}
  ],
  "images": [{"uri": "a.png"}, {"uri": "b.png"}, {"uri": "c.ktx2"}]
}`

func TestExtensionReferences(t *testing.T) {
	g, err := ReadGLTF(writeFixture(t, extensionGLTF))
	require.NoError(t, err)
	assert.Empty(t, g.Doc.Opaque)

	report, err := pipeline.Clean(g.Doc)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Collect.Disposed[scene.KindTexture])
	assert.Equal(t, 2, report.Collect.Disposed[scene.KindImage])

	out, err := g.Encode()
	require.NoError(t, err)
	require.Len(t, out.Textures, 1)
	require.Len(t, out.Images, 1)
	assert.Equal(t, "c.ktx2", out.Images[0].URI)

	var clearcoat struct {
		ClearcoatTexture struct {
			Index int `json:"index"`
		} `json:"clearcoatTexture"`
	}
	require.NoError(t, decodeExtension(out.Materials[0].Extensions["KHR_materials_clearcoat"], &clearcoat))
	assert.Equal(t, 0, clearcoat.ClearcoatTexture.Index)

	var basisu struct {
		Source int `json:"source"`
	}
	require.NoError(t, decodeExtension(out.Textures[0].Extensions["KHR_texture_basisu"], &basisu))
	assert.Equal(t, 0, basisu.Source)
}

func TestOpaqueExtensions(t *testing.T) {
	body := strings.Replace(extensionGLTF, `"KHR_texture_basisu"`,
		`"KHR_texture_basisu", "KHR_draco_mesh_compression", "KHR_materials_variants"`, 1)
	g, err := ReadGLTF(writeFixture(t, body))
	require.NoError(t, err)
	assert.Equal(t, []string{"KHR_draco_mesh_compression", "KHR_materials_variants"}, g.Doc.Opaque)

	_, err = pipeline.Clean(g.Doc)
	assert.ErrorIs(t, err, pipeline.ErrResourceCollection)
}

func TestReadGLTFErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{
			name:    "no scene",
			body:    `{"asset": {"version": "2.0"}, "nodes": [{}]}`,
			wantErr: ErrNoScene,
		},
		{
			name:    "mesh out of range",
			body:    `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0]}], "nodes": [{"mesh": 3}]}`,
			wantErr: ErrInvalidReference,
		},
		{
			name:    "child out of range",
			body:    `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0]}], "nodes": [{"children": [7]}]}`,
			wantErr: ErrInvalidReference,
		},
		{
			name:    "root out of range",
			body:    `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [2]}], "nodes": [{}]}`,
			wantErr: ErrInvalidReference,
		},
		{
			name:    "default scene out of range",
			body:    `{"asset": {"version": "2.0"}, "scene": 1, "scenes": [{"nodes": [0]}], "nodes": [{}]}`,
			wantErr: ErrInvalidReference,
		},
		{
			name:    "channel sampler out of range",
			body:    `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0]}], "nodes": [{}], "animations": [{"channels": [{"sampler": 3, "target": {"node": 0, "path": "translation"}}], "samplers": []}]}`,
			wantErr: ErrInvalidReference,
		},
		{
			name:    "light out of range",
			body:    `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0]}], "nodes": [{"extensions": {"KHR_lights_punctual": {"light": 0}}}]}`,
			wantErr: ErrInvalidReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadGLTF(writeFixture(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadGLTFMissingFile(t *testing.T) {
	_, err := ReadGLTF("/nonexistent/path/scene.glb")
	assert.Error(t, err)
}

func TestIsGLTFFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.glb", true},
		{"dir/b.GLTF", true},
		{"c.Glb", true},
		{"d.obj", false},
		{"glb", false},
		{"e.glb.bak", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGLTFFile(tt.path))
		})
	}
}

func TestRepackSkipsOverlappingViews(t *testing.T) {
	body := strings.Replace(fmt.Sprintf(sceneGLTF, "data:application/octet-stream;base64,"+base64.StdEncoding.EncodeToString(payload())),
		`{"buffer": 0, "byteOffset": 0, "byteLength": 12}`,
		`{"buffer": 0, "byteOffset": 0, "byteLength": 12}, {"buffer": 0, "byteOffset": 4, "byteLength": 8}`, 1)
	body = strings.Replace(body,
		`{"bufferView": 1, "componentType": 5126, "count": 1, "type": "VEC3"}`,
		`{"bufferView": 1, "componentType": 5126, "count": 1, "type": "VEC2"}`, 1)
	body = strings.Replace(body, `"POSITION": 0}, "material": 0`, `"POSITION": 0, "TEXCOORD_0": 1}, "material": 0`, 1)

	g, err := ReadGLTF(writeFixture(t, body))
	require.NoError(t, err)
	_, err = pipeline.Clean(g.Doc)
	require.NoError(t, err)

	out, err := g.Encode()
	require.NoError(t, err)
	require.Len(t, out.BufferViews, 2)
	assert.Equal(t, 24, out.Buffers[0].ByteLength, "overlapping views keep the buffer as is")
	assert.Equal(t, 4, out.BufferViews[1].ByteOffset)
}

func TestDecodeGLTFExternalBuffer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.bin"), payload(), 0644))
	body := fmt.Sprintf(sceneGLTF, "scene.bin")

	g, err := DecodeGLTF(strings.NewReader(body), dir)
	require.NoError(t, err)
	require.Len(t, g.src.Buffers, 1)
	assert.Equal(t, payload(), g.src.Buffers[0].Data)

	_, err = pipeline.Clean(g.Doc)
	require.NoError(t, err)
	out, err := g.Encode()
	require.NoError(t, err)
	assert.Equal(t, payload()[:12], out.Buffers[0].Data)

	_, err = DecodeGLTF(strings.NewReader(body), t.TempDir())
	assert.Error(t, err, "buffer file missing from dir")
}

func TestReadGLTFRejectsHierarchyCycles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "child cycle",
			body: `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0]}], "nodes": [{"children": [1]}, {"children": [0]}]}`,
		},
		{
			name: "self parent",
			body: `{"asset": {"version": "2.0"}, "scenes": [{"nodes": []}], "nodes": [{"children": [0]}]}`,
		},
		{
			name: "shared child",
			body: `{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0, 1]}], "nodes": [{"children": [2]}, {"children": [2]}, {}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadGLTF(writeFixture(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, scene.ErrInvariantViolation)
		})
	}
}

func TestBoundsSurvivesCorruptedHierarchy(t *testing.T) {
	g, err := ReadGLTF(writeFixture(t, boundsGLTF))
	require.NoError(t, err)
	// Loop the scaled node back to the root after decoding.
	require.NoError(t, g.Doc.AddChild(1, 0))

	box := g.Bounds()
	assert.False(t, box.IsEmpty())
}

func TestImageFiles(t *testing.T) {
	src := t.TempDir()
	body := `{
  "asset": {"version": "2.0"},
  "scenes": [{"nodes": [0]}],
  "nodes": [{"mesh": 0}],
  "meshes": [{"primitives": [{"attributes": {}, "material": 0}]}],
  "materials": [{"pbrMetallicRoughness": {"baseColorTexture": {"index": 0}}, "normalTexture": {"index": 1},
    "occlusionTexture": {"index": 2}, "emissiveTexture": {"index": 3}}],
  "textures": [{"source": 0}, {"source": 1}, {"source": 2}, {"source": 3}, {"source": 4}],
  "images": [
    {"uri": "maps/base%20color.png"},
    {"uri": "../outside.png"},
    {"uri": "https://example.com/remote.png"},
    {"uri": "missing.png"},
    {"uri": "dropped.png"}
  ]
}`
	path := filepath.Join(src, "m.gltf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "maps"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "maps", "base color.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "dropped.png"), []byte("png"), 0644))

	g, err := ReadGLTF(path)
	require.NoError(t, err)
	_, err = pipeline.Clean(g.Doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"maps/base color.png", "missing.png"}, g.ImageFiles())

	dst := t.TempDir()
	require.NoError(t, g.WriteFile(filepath.Join(dst, "m.glb")))
	assert.FileExists(t, filepath.Join(dst, "maps", "base color.png"))
	assert.NoFileExists(t, filepath.Join(dst, "missing.png"))
	assert.NoFileExists(t, filepath.Join(dst, "dropped.png"))

	// Writing beside the source copies nothing.
	copied, err := g.CopyImages(src)
	require.NoError(t, err)
	assert.Empty(t, copied)
}

// animatedGLTF animates the mesh node arm and the empty leaf lamp, each
// through its own sampler and keyframe accessors.
const animatedGLTF = `{
  "asset": {"version": "2.0"},
  "scenes": [{"nodes": [0]}],
  "nodes": [
    {"name": "root", "children": [1, 2]},
    {"name": "arm", "mesh": 0},
    {"name": "lamp"}
  ],
  "meshes": [{"name": "arm", "primitives": [{"attributes": {"POSITION": 0}}]}],
  "accessors": [
    {"componentType": 5126, "count": 3, "type": "VEC3"},
    {"componentType": 5126, "count": 2, "type": "SCALAR"},
    {"componentType": 5126, "count": 2, "type": "VEC3"},
    {"componentType": 5126, "count": 2, "type": "SCALAR"},
    {"componentType": 5126, "count": 2, "type": "VEC4"}
  ],
  "animations": [{
    "name": "idle",
    "channels": [
      {"sampler": 0, "target": {"node": 2, "path": "translation"}},
      {"sampler": 1, "target": {"node": 1, "path": "rotation"}}
    ],
    "samplers": [
      {"input": 1, "output": 2},
      {"input": 3, "output": 4}
    ]
  }]
}`

func TestAnimationSamplersFollowTargets(t *testing.T) {
	g, err := ReadGLTF(writeFixture(t, animatedGLTF))
	require.NoError(t, err)

	anim := g.Doc.Resource(g.ids[scene.KindAnimation][0])
	require.Len(t, anim.Targets, 2)
	assert.Equal(t, scene.NodeID(2), anim.Targets[0].Node)
	assert.Len(t, anim.Targets[0].Refs, 2)
	assert.Empty(t, anim.Refs, "every channel targets a node")

	report, err := pipeline.Clean(g.Doc)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Collect.Disposed[scene.KindAccessor])

	out, err := g.Encode()
	require.NoError(t, err)
	require.Len(t, out.Nodes, 2)
	assert.Len(t, out.Accessors, 3)
	require.Len(t, out.Animations, 1)
	a := out.Animations[0]
	require.Len(t, a.Channels, 1)
	require.Len(t, a.Samplers, 1)
	assert.Equal(t, 0, a.Channels[0].Sampler)
	require.NotNil(t, a.Channels[0].Target.Node)
	assert.Equal(t, "arm", out.Nodes[*a.Channels[0].Target.Node].Name)
	assert.Equal(t, 1, a.Samplers[0].Input)
	assert.Equal(t, 2, a.Samplers[0].Output)
}

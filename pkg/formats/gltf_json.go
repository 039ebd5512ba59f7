package formats

import (
	"encoding/json"
	"strings"

	"github.com/Faultbox/glbclean/pkg/scene"
)

// jsonRef is an index held in a generic JSON object, used for references
// that live inside extensions as well as core fields.
type jsonRef struct {
	obj  map[string]any
	key  string
	kind scene.Kind
}

func (r jsonRef) index() (int, bool) {
	f, ok := r.obj[r.key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func (r jsonRef) set(i int) {
	r.obj[r.key] = i
}

// materialRefs finds every texture-info object ("baseColorTexture",
// "clearcoatTexture", ...) in a material, core and extensions alike.
func materialRefs(tree map[string]any) []jsonRef {
	var out []jsonRef
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				if obj, ok := child.(map[string]any); ok && strings.HasSuffix(k, "Texture") {
					if _, has := obj["index"]; has {
						out = append(out, jsonRef{obj: obj, key: "index", kind: scene.KindTexture})
					}
				}
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(tree)
	return out
}

// textureRefs returns a texture's sampler and image references, including
// image sources declared by extensions such as KHR_texture_basisu.
func textureRefs(tree map[string]any) []jsonRef {
	var out []jsonRef
	if _, ok := tree["sampler"]; ok {
		out = append(out, jsonRef{obj: tree, key: "sampler", kind: scene.KindSampler})
	}
	if _, ok := tree["source"]; ok {
		out = append(out, jsonRef{obj: tree, key: "source", kind: scene.KindImage})
	}
	exts, _ := tree["extensions"].(map[string]any)
	for _, v := range exts {
		if obj, ok := v.(map[string]any); ok {
			if _, has := obj["source"]; has {
				out = append(out, jsonRef{obj: obj, key: "source", kind: scene.KindImage})
			}
		}
	}
	return out
}

func toTree(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func fromTree(tree map[string]any, out any) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// decodeExtension unmarshals an extension value, which is raw JSON unless a
// typed decoder was registered for it.
func decodeExtension(v any, out any) error {
	var data []byte
	switch t := v.(type) {
	case json.RawMessage:
		data = t
	case []byte:
		data = t
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, out)
}

package scene

import "fmt"

// Kind is the type of a shared resource.
type Kind uint8

const (
	KindMesh Kind = iota
	KindMaterial
	KindTexture
	KindImage
	KindSampler
	KindAccessor
	KindBufferView
	KindBuffer
	KindCamera
	KindLight
	KindSkin
	KindAnimation

	kindCount
)

var kindNames = [...]string{
	KindMesh:       "mesh",
	KindMaterial:   "material",
	KindTexture:    "texture",
	KindImage:      "image",
	KindSampler:    "sampler",
	KindAccessor:   "accessor",
	KindBufferView: "bufferView",
	KindBuffer:     "buffer",
	KindCamera:     "camera",
	KindLight:      "light",
	KindSkin:       "skin",
	KindAnimation:  "animation",
}

// String returns the glTF-style name of the kind.
func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k < kindCount
}

// Kinds returns every resource kind in declaration order.
func Kinds() []Kind {
	ks := make([]Kind, 0, int(kindCount))
	for k := Kind(0); k < kindCount; k++ {
		ks = append(ks, k)
	}
	return ks
}

// edges lists the resource-to-resource references the model understands.
var edges = map[Kind][]Kind{
	KindMesh:       {KindMaterial, KindAccessor},
	KindMaterial:   {KindTexture},
	KindTexture:    {KindImage, KindSampler},
	KindImage:      {KindBufferView},
	KindAccessor:   {KindBufferView},
	KindBufferView: {KindBuffer},
	KindSkin:       {KindAccessor},
	KindAnimation:  {KindAccessor},
}

// CanReference reports whether a resource of kind from may reference one of kind to.
func CanReference(from, to Kind) bool {
	for _, k := range edges[from] {
		if k == to {
			return true
		}
	}
	return false
}

// Resource is a shared asset referenced by nodes or by other resources.
// Its lifetime is decided by reachability, not by reference counts.
type Resource struct {
	Kind Kind
	Name string

	// Refs are outgoing edges to other resources.
	Refs []ResourceID

	// Nodes is the set of nodes the resource refers to: skin joints and
	// skeleton, animation channel targets.
	Nodes []NodeID

	// Targets are edges that only count while their node is reachable:
	// an animation channel keeps its sampler data only while the node it
	// drives survives. Followed for animations.
	Targets []Target

	// Origin is the index within its kind in the decoded file, or -1.
	Origin int

	disposed bool
}

// Target binds resource edges to a node.
type Target struct {
	Node NodeID
	Refs []ResourceID
}

// Disposed reports whether the resource has been removed.
func (r *Resource) Disposed() bool {
	return r.disposed
}

// AddResource appends a resource to the pool.
func (d *Document) AddResource(kind Kind, name string, refs ...ResourceID) ResourceID {
	d.resources = append(d.resources, Resource{
		Kind:   kind,
		Name:   name,
		Refs:   refs,
		Origin: -1,
	})
	return ResourceID(len(d.resources) - 1)
}

// Resource returns the resource for id, or nil if out of range.
func (d *Document) Resource(id ResourceID) *Resource {
	if id < 0 || int(id) >= len(d.resources) {
		return nil
	}
	return &d.resources[id]
}

// NumResources returns the size of the pool, disposed slots included.
func (d *Document) NumResources() int {
	return len(d.resources)
}

// DisposeResource removes a resource permanently.
func (d *Document) DisposeResource(id ResourceID) {
	if r := d.Resource(id); r != nil {
		r.disposed = true
		r.Refs = nil
		r.Nodes = nil
		r.Targets = nil
	}
}

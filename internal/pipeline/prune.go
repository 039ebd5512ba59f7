package pipeline

import (
	"fmt"

	"github.com/Faultbox/glbclean/pkg/scene"
)

// PruneStats describes a PruneEmptyLeaves run.
type PruneStats struct {
	Passes  int // full passes, including the final one that removed nothing
	Removed int
}

// IsEmptyLeaf reports whether a live node has no children and no mesh,
// camera or light attachment.
func IsEmptyLeaf(doc *scene.Document, id scene.NodeID) bool {
	n := doc.Node(id)
	if n == nil || n.Disposed() {
		return false
	}
	return n.NumChildren() == 0 &&
		n.Mesh == scene.NoResource &&
		n.Camera == scene.NoResource &&
		n.Light == scene.NoResource
}

// PruneEmptyLeaves removes empty leaves in full passes over the node arena
// until a pass removes nothing. Removing a leaf can empty its parent, and the
// arena has no parent/child ordering, so one pass is not enough.
// A document whose ownership is inconsistent is rejected before any removal.
func PruneEmptyLeaves(doc *scene.Document) (PruneStats, error) {
	var st PruneStats
	if err := doc.ValidateTree(); err != nil {
		return st, err
	}
	for changed := true; changed; {
		changed = false
		st.Passes++
		for i := range doc.NumNodes() {
			id := scene.NodeID(i)
			if !IsEmptyLeaf(doc, id) {
				continue
			}
			if err := doc.DisposeNode(id); err != nil {
				return st, fmt.Errorf("pruning node %d: %w", id, err)
			}
			st.Removed++
			changed = true
		}
	}
	return st, nil
}

package pipeline

import "github.com/Faultbox/glbclean/pkg/scene"

// StripStats counts the attachments cleared by StripCapabilities.
type StripStats struct {
	Cameras int
	Lights  int
}

// StripCapabilities clears the camera and punctual-light attachment of every
// live node, reachable or not. The detached resources stay in the pool until
// CollectResources decides they are unreachable.
func StripCapabilities(doc *scene.Document) StripStats {
	var st StripStats
	for _, id := range doc.LiveNodes() {
		n := doc.Node(id)
		if n.Camera != scene.NoResource {
			n.Camera = scene.NoResource
			st.Cameras++
		}
		if n.Light != scene.NoResource {
			n.Light = scene.NoResource
			st.Lights++
		}
	}
	return st
}

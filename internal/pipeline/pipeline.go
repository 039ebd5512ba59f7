// Package pipeline cleans one scene document in place: it strips cameras
// and punctual lights, prunes empty leaf nodes to a fixpoint and collects
// the resources no scene reaches any more.
//
// The pipeline performs no I/O and does not log. Callers own the document
// for the duration of Clean; independent documents may be cleaned concurrently.
package pipeline

import (
	"fmt"

	"github.com/Faultbox/glbclean/pkg/scene"
)

// Stage names a pipeline step.
type Stage string

const (
	StageValidate Stage = "validate"
	StageStrip    Stage = "strip"
	StagePrune    Stage = "prune"
	StageCollect  Stage = "collect"
)

// Error is returned by Clean when a stage fails. The document must then be
// discarded: it is internally consistent but only partly cleaned.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Report summarises a successful Clean.
type Report struct {
	Strip   StripStats
	Prune   PruneStats
	Collect CollectStats
}

// Clean validates doc and runs strip, prune and collect in that order.
// The prune stage only starts once every camera and light is detached, and
// collection only runs on the final tree shape.
func Clean(doc *scene.Document) (*Report, error) {
	if doc == nil {
		return nil, &Error{Stage: StageValidate, Err: fmt.Errorf("%w: nil document", scene.ErrInvariantViolation)}
	}
	if err := doc.Validate(); err != nil {
		return nil, &Error{Stage: StageValidate, Err: err}
	}

	var (
		r   Report
		err error
	)
	r.Strip = StripCapabilities(doc)
	if r.Prune, err = PruneEmptyLeaves(doc); err != nil {
		return nil, &Error{Stage: StagePrune, Err: err}
	}
	if r.Collect, err = CollectResources(doc); err != nil {
		return nil, &Error{Stage: StageCollect, Err: err}
	}
	return &r, nil
}

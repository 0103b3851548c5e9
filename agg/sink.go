package agg

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// sink is where completed stages go: the top-level pipeline or a branch of
// the trailing $facet stage.
type sink interface {
	append(stage bson.D) error
	// last returns the most recent stage of the sink. The returned stage
	// shares storage with the sink, so setting its payload updates it.
	last() (bson.D, bool)
	pop() (bson.D, error)
}

type topLevelSink struct {
	b *Builder
}

func (s topLevelSink) append(stage bson.D) error {
	s.b.stages = append(s.b.stages, stage)
	return nil
}

func (s topLevelSink) last() (bson.D, bool) {
	if len(s.b.stages) == 0 {
		return nil, false
	}
	return s.b.stages[len(s.b.stages)-1], true
}

func (s topLevelSink) pop() (bson.D, error) {
	stage, ok := s.last()
	if !ok {
		return nil, errors.Wrap(ErrInvalidStage, "pipeline is empty")
	}
	s.b.stages = s.b.stages[:len(s.b.stages)-1]
	return stage, nil
}

type facetSink struct {
	b      *Builder
	branch string
}

// facetBody returns the payload of the trailing $facet stage and the index
// of this sink's branch in it.
func (s facetSink) facetBody() (bson.D, int, error) {
	latest, ok := topLevelSink{b: s.b}.last()
	if !ok || stageName(latest) != "$facet" {
		return nil, 0, errors.Wrapf(ErrFacetNotStarted, "last stage is not $facet, routing to %q", s.branch)
	}
	body, ok := latest[0].Value.(bson.D)
	if !ok {
		return nil, 0, errors.Wrapf(ErrFacetNotStarted, "$facet payload is %T", latest[0].Value)
	}
	i := indexOf(body, s.branch)
	if i < 0 {
		return nil, 0, errors.Wrapf(ErrFacetNotStarted, "no facet branch %q", s.branch)
	}
	return body, i, nil
}

func (s facetSink) append(stage bson.D) error {
	body, i, err := s.facetBody()
	if err != nil {
		return err
	}
	switch branch := body[i].Value.(type) {
	case mongo.Pipeline:
		body[i].Value = append(branch, stage)
	case []bson.D:
		body[i].Value = append(branch, stage)
	default:
		arr, ok := appendToArray(branch, stage)
		if !ok || branch == nil {
			return errors.Wrapf(ErrFacetNotStarted, "facet branch %q is %T, not an array", s.branch, branch)
		}
		body[i].Value = arr
	}
	return nil
}

func (s facetSink) stages() []bson.D {
	body, i, err := s.facetBody()
	if err != nil {
		return nil
	}
	switch branch := body[i].Value.(type) {
	case mongo.Pipeline:
		return branch
	case []bson.D:
		return branch
	case bson.A:
		return docsOf(branch)
	case []any:
		return docsOf(branch)
	}
	return nil
}

func docsOf(arr []any) []bson.D {
	stages := make([]bson.D, 0, len(arr))
	for _, v := range arr {
		if d, ok := v.(bson.D); ok {
			stages = append(stages, d)
		}
	}
	return stages
}

func (s facetSink) last() (bson.D, bool) {
	stages := s.stages()
	if len(stages) == 0 {
		return nil, false
	}
	return stages[len(stages)-1], true
}

func (s facetSink) pop() (bson.D, error) {
	body, i, err := s.facetBody()
	if err != nil {
		return nil, err
	}
	stage, ok := s.last()
	if !ok {
		return nil, errors.Wrapf(ErrInvalidStage, "facet branch %q is empty", s.branch)
	}
	switch branch := body[i].Value.(type) {
	case mongo.Pipeline:
		body[i].Value = branch[:len(branch)-1]
	case []bson.D:
		body[i].Value = branch[:len(branch)-1]
	case bson.A:
		body[i].Value = branch[:len(branch)-1]
	case []any:
		body[i].Value = branch[:len(branch)-1]
	}
	return stage, nil
}

// stageName returns the operator key of a single-key stage document.
func stageName(stage bson.D) string {
	if len(stage) == 0 {
		return ""
	}
	return stage[0].Key
}

// tryMergeWithPrevious merges into the active sink's last stage if it is of
// kind. It reports whether a merge happened.
func (b *Builder) tryMergeWithPrevious(kind string, merge func(payload any) (any, error)) (bool, error) {
	latest, ok := b.sink.last()
	if !ok || stageName(latest) != kind {
		return false, nil
	}
	payload, err := merge(latest[0].Value)
	if err != nil {
		return false, err
	}
	latest[0].Value = payload
	return true, nil
}

package agg

import "github.com/pkg/errors"

var (
	// ErrMissingField is returned when a stage is built without a key it
	// cannot do without, e.g. a $lookup without "from".
	ErrMissingField = errors.New("missing required field")
	// ErrFacetNotStarted is returned when a stage is routed into a facet
	// branch that does not exist on the last stage.
	ErrFacetNotStarted = errors.New("start facet stage first")
	// ErrGroupIDNotDocument is returned when AmendGroup must merge keys into
	// a $group _id that is a scalar such as a field path.
	ErrGroupIDNotDocument = errors.New("group _id is not a document")
	ErrInvalidStage       = errors.New("invalid stage")
	ErrNoAggregator       = errors.New("no aggregator to commit the pipeline to")
)

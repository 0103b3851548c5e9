package agg

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Lookup describes a $lookup join. Set LocalField for an equality join, or
// Pipeline for a join that runs a sub-pipeline on the joined collection.
type Lookup struct {
	From         string         `bson:"from"`
	LocalField   string         `bson:"localField,omitempty"`
	ForeignField string         `bson:"foreignField,omitempty"`
	Let          any            `bson:"let,omitempty"`
	Pipeline     mongo.Pipeline `bson:"pipeline,omitempty"`
	As           string         `bson:"as,omitempty"`
}

// Stage builds the $lookup stage. An equality join defaults ForeignField to
// "_id" and As to LocalField. A pipeline join leaves "as" out when As is
// empty.
func (l Lookup) Stage() (Stage, error) {
	switch {
	case l.Pipeline != nil:
		if l.From == "" {
			return nil, errors.Wrap(ErrMissingField, "key 'from' is required to build lookup aggregation stage")
		}
		body := bson.D{{Key: "from", Value: l.From}}
		if l.Let != nil {
			body = append(body, bson.E{Key: "let", Value: l.Let})
		}
		body = append(body, bson.E{Key: "pipeline", Value: l.Pipeline})
		if l.As != "" {
			body = append(body, bson.E{Key: "as", Value: l.As})
		}
		return Stage{{Key: "$lookup", Value: body}}, nil
	case l.LocalField != "":
		if l.From == "" {
			return nil, errors.Wrap(ErrMissingField, "key 'from' is required to build lookup aggregation stage")
		}
		foreignField := l.ForeignField
		if foreignField == "" {
			foreignField = "_id"
		}
		return Stage{{
			Key: "$lookup",
			Value: bson.D{
				{Key: "from", Value: l.From},
				{Key: "localField", Value: l.LocalField},
				{Key: "foreignField", Value: foreignField},
				{Key: "as", Value: l.output()},
			},
		}}, nil
	}
	return nil, errors.Wrap(ErrMissingField, "key 'localField' or 'pipeline' is required to build lookup aggregation stage")
}

// output is the field the joined documents are written to.
func (l Lookup) output() string {
	if l.As == "" && l.Pipeline == nil {
		return l.LocalField
	}
	return l.As
}

// DecodeLookup decodes a $lookup payload document into a Lookup.
func DecodeLookup(doc any) (Lookup, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return Lookup{}, errors.Wrap(err, "marshaling lookup")
	}
	var l Lookup
	if err := bson.Unmarshal(raw, &l); err != nil {
		return Lookup{}, errors.Wrap(err, "unmarshaling lookup")
	}
	return l, nil
}

// Lookup adds a $lookup stage. With UnwindLookup it is followed by an
// $unwind of the output field that keeps unmatched documents unless
// PreserveNullAndEmptyArrays(false) is given.
func (b *Builder) Lookup(l Lookup, opts ...StageOption) *Builder {
	o := collectOptions(opts)
	if !b.openStage("lookup", o) {
		return b
	}
	b.lookup(l, o)
	return b
}

func (b *Builder) lookup(l Lookup, o Options) {
	stage, err := l.Stage()
	if err != nil {
		b.fail(err)
		return
	}
	if !b.closeStage(stage) || !o.Unwind {
		return
	}

	as := l.output()
	if as == "" {
		b.fail(errors.Wrap(ErrMissingField, "key 'as' is required to unwind a lookup"))
		return
	}
	preserve := o.preserveNullAndEmptyArrays()
	b.closeStage(UnwindWith("$"+as, o.IncludeArrayIndex, &preserve))
}

package agg

import (
	"context"
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Aggregator runs an aggregation pipeline. *mongo.Collection implements it.
type Aggregator interface {
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// Builder accumulates the stages of one aggregation pipeline. Each stage
// method returns the Builder so calls can be chained. The first error
// encountered is kept; after it every stage call is a no-op and Pipeline,
// Err and Commit report it.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	model   Aggregator
	aggOpts *options.AggregateOptions
	sender  send.Sender

	stages mongo.Pipeline
	sink   sink
	gate   gate
	alones map[string]string
	err    error
}

type BuilderOption func(b *Builder)

// WithSender sets where the builder logs. The default is the global grip
// sender.
func WithSender(sender send.Sender) BuilderOption {
	return func(b *Builder) {
		b.sender = sender
	}
}

func WithAggregateOptions(opts ...*options.AggregateOptions) BuilderOption {
	return func(b *Builder) {
		b.Option(opts...)
	}
}

// New returns an empty Builder. model may be nil if the pipeline is only
// read with Get or Pipeline.
func New(model Aggregator, opts ...BuilderOption) *Builder {
	b := &Builder{
		model:   model,
		aggOpts: options.Aggregate().SetAllowDiskUse(true),
		sender:  grip.GetSender(),
		stages:  mongo.Pipeline{},
		alones:  make(map[string]string),
	}
	b.sink = topLevelSink{b: b}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// closeStage sends stage to the active sink, recording any routing error.
func (b *Builder) closeStage(stage bson.D) bool {
	if err := b.sink.append(stage); err != nil {
		b.fail(err)
		return false
	}
	return true
}

func (b *Builder) fail(err error) {
	if b.err != nil {
		return
	}
	b.err = err
	b.sender.Send(message.NewErrorWrapMessage(level.Error, err, "building aggregation pipeline"))
}

// Get returns the stages added so far.
func (b *Builder) Get() mongo.Pipeline {
	return b.stages
}

// Pipeline returns the stages added so far, or the first error hit while
// adding them.
func (b *Builder) Pipeline() (mongo.Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.stages, nil
}

func (b *Builder) Err() error {
	return b.err
}

// Option merges opts over the aggregate options used by Commit. allowDiskUse
// defaults to true.
func (b *Builder) Option(opts ...*options.AggregateOptions) *Builder {
	b.aggOpts = options.MergeAggregateOptions(append([]*options.AggregateOptions{b.aggOpts}, opts...)...)
	return b
}

// Commit runs the pipeline on the builder's model and returns its cursor.
func (b *Builder) Commit(ctx context.Context) (*mongo.Cursor, error) {
	pipeline, err := b.Pipeline()
	if err != nil {
		return nil, err
	}
	if b.model == nil {
		return nil, ErrNoAggregator
	}

	cursor, err := b.model.Aggregate(ctx, pipeline, b.aggOpts)
	if err != nil {
		return nil, errors.Wrap(err, "error running aggregation")
	}
	return cursor, nil
}

// CommitAll runs the pipeline and decodes every result into results, which
// must be a pointer to a slice.
func (b *Builder) CommitAll(ctx context.Context, results any) error {
	cursor, err := b.Commit(ctx)
	if err != nil {
		return err
	}
	if err := cursor.All(ctx, results); err != nil {
		return errors.Wrap(err, "error decoding aggregation results")
	}
	return nil
}

// Stage adds a prebuilt single-key stage document such as {$sample: {...}}.
func (b *Builder) Stage(stage bson.D, opts ...StageOption) *Builder {
	if len(stage) != 1 || !strings.HasPrefix(stage[0].Key, "$") {
		if b.gate.consume() {
			b.fail(errors.Wrapf(ErrInvalidStage, "stage must have exactly one $-prefixed key, got %d keys", len(stage)))
		}
		return b
	}
	if !b.openStage(strings.TrimPrefix(stage[0].Key, "$"), collectOptions(opts)) {
		return b
	}
	b.closeStage(append(bson.D{}, stage...))
	return b
}

// addDocument runs a payload through the gate, normalizes it to a document and
// closes the stage.
func (b *Builder) addDocument(key string, payload any, opts []StageOption) *Builder {
	if !b.openStage(strings.TrimPrefix(key, "$"), collectOptions(opts)) {
		return b
	}
	doc, err := toDocument(payload)
	if err != nil {
		b.fail(errors.Wrapf(err, "converting %s payload", key))
		return b
	}
	b.closeStage(Stage{{Key: key, Value: doc}})
	return b
}

// addValue is addDocument for payloads that are not documents.
func (b *Builder) addValue(key string, payload any, opts []StageOption) *Builder {
	if !b.openStage(strings.TrimPrefix(key, "$"), collectOptions(opts)) {
		return b
	}
	b.closeStage(Stage{{Key: key, Value: payload}})
	return b
}

// Match adds a $match stage. If the last stage is already a $match the
// criteria are merged into it, later keys replacing earlier ones. With
// SmartMatch, MatchAll or MatchAny the criteria are appended to the
// filter's $and or $or array instead, keeping every earlier criterion.
func (b *Builder) Match(filter any, opts ...StageOption) *Builder {
	o := collectOptions(opts)
	if !b.openStage("match", o) {
		return b
	}
	criteria, err := toDocument(filter)
	if err != nil {
		b.fail(errors.Wrap(err, "converting $match filter"))
		return b
	}
	if o.smart() {
		b.matchSmart(criteria, o)
		return b
	}

	merged, err := b.tryMergeWithPrevious("$match", func(payload any) (any, error) {
		current, err := toDocument(payload)
		if err != nil {
			return nil, err
		}
		return mergeDocs(current, criteria), nil
	})
	if err != nil {
		b.fail(errors.Wrap(err, "merging $match"))
		return b
	}
	if !merged {
		b.closeStage(Match(criteria))
	}
	return b
}

func (b *Builder) matchSmart(criteria bson.D, o Options) {
	key := "$and"
	if o.Or {
		key = "$or"
	}

	merged, err := b.tryMergeWithPrevious("$match", func(payload any) (any, error) {
		current, err := toDocument(payload)
		if err != nil {
			return nil, err
		}
		i := indexOf(current, key)
		if i < 0 {
			return append(current, bson.E{Key: key, Value: bson.A{criteria}}), nil
		}
		arr, ok := appendToArray(current[i].Value, criteria)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidStage, "$match %s is %T, not an array", key, current[i].Value)
		}
		current[i].Value = arr
		return current, nil
	})
	if err != nil {
		b.fail(errors.Wrap(err, "merging $match"))
		return
	}
	if !merged {
		b.closeStage(Match(bson.D{{Key: key, Value: bson.A{criteria}}}))
	}
}

func (b *Builder) AddFields(fields any, opts ...StageOption) *Builder {
	return b.addDocument("$addFields", fields, opts)
}

func (b *Builder) Set(fields any, opts ...StageOption) *Builder {
	return b.addDocument("$set", fields, opts)
}

func (b *Builder) Project(projection any, opts ...StageOption) *Builder {
	return b.addDocument("$project", projection, opts)
}

// AmendProject merges projection into the last stage if it is a $project,
// including the last stage of an open facet branch. Otherwise it does
// nothing.
func (b *Builder) AmendProject(projection any, opts ...StageOption) *Builder {
	if !b.openStage("project", collectOptions(opts)) {
		return b
	}
	fields, err := toDocument(projection)
	if err != nil {
		b.fail(errors.Wrap(err, "converting $project payload"))
		return b
	}
	_, err = b.tryMergeWithPrevious("$project", func(payload any) (any, error) {
		current, err := toDocument(payload)
		if err != nil {
			return nil, err
		}
		return mergeDocs(current, fields), nil
	})
	if err != nil {
		b.fail(errors.Wrap(err, "merging $project"))
	}
	return b
}

// Group adds {$group: {_id: id, ...accumulators}}. With CheckLookup, the
// named fields of a document id are rewritten to group by the _id of the
// looked-up document they reference.
func (b *Builder) Group(id any, accumulators any, opts ...StageOption) *Builder {
	o := collectOptions(opts)
	if !b.openStage("group", o) {
		return b
	}
	acc, err := toDocument(accumulators)
	if err != nil {
		b.fail(errors.Wrap(err, "converting $group accumulators"))
		return b
	}
	if doc, ok := asDocument(id); ok {
		idDoc, err := toDocument(doc)
		if err != nil {
			b.fail(errors.Wrap(err, "converting $group _id"))
			return b
		}
		id = checkLookup(idDoc, o.CheckLookup)
	}

	body := bson.D{{Key: "_id", Value: id}}
	for _, e := range acc {
		if e.Key != "_id" {
			body = append(body, e)
		}
	}
	b.closeStage(Stage{{Key: "$group", Value: body}})
	return b
}

func asDocument(v any) (any, bool) {
	switch v.(type) {
	case bson.D, bson.M, map[string]any, Operator, []FieldExpr:
		return v, true
	}
	return nil, false
}

func checkLookup(id bson.D, fields []string) bson.D {
	for _, field := range fields {
		i := indexOf(id, field)
		if i < 0 {
			continue
		}
		if ref, ok := id[i].Value.(string); ok && ref != "" {
			id[i].Value = ref + "._id"
		}
	}
	return id
}

// AmendGroup merges id into the _id document of the last $group stage and
// accumulators into its body. It does nothing if the last stage is not a
// $group. A nil _id is upgraded to a document; a scalar _id is an
// ErrGroupIDNotDocument. With ApplyLookup the $group is moved after the
// given $lookup.
func (b *Builder) AmendGroup(id any, accumulators any, opts ...StageOption) *Builder {
	o := collectOptions(opts)
	if !b.openStage("group", o) {
		return b
	}
	idFields, err := toDocument(id)
	if err != nil {
		b.fail(errors.Wrap(err, "converting $group _id"))
		return b
	}
	acc, err := toDocument(accumulators)
	if err != nil {
		b.fail(errors.Wrap(err, "converting $group accumulators"))
		return b
	}

	merged, err := b.tryMergeWithPrevious("$group", func(payload any) (any, error) {
		body, err := toDocument(payload)
		if err != nil {
			return nil, err
		}
		i := indexOf(body, "_id")
		if i < 0 {
			body = append(bson.D{{Key: "_id", Value: nil}}, body...)
			i = 0
		}
		current := body[i].Value
		if current == nil {
			current = bson.D{}
		}
		if _, ok := asDocument(current); !ok {
			return nil, errors.Wrapf(ErrGroupIDNotDocument, "_id is %T, convert it to a document", current)
		}
		currentID, err := toDocument(current)
		if err != nil {
			return nil, err
		}
		body[i].Value = checkLookup(mergeDocs(currentID, idFields), o.CheckLookup)
		for _, e := range acc {
			if e.Key != "_id" {
				body = mergeDocs(body, bson.D{e})
			}
		}
		return body, nil
	})
	if err != nil {
		b.fail(errors.Wrap(err, "amending $group"))
		return b
	}
	if !merged || o.ApplyLookup == nil {
		return b
	}

	group, err := b.sink.pop()
	if err != nil {
		b.fail(err)
		return b
	}
	b.Lookup(*o.ApplyLookup, o.LookupOptions...)
	b.closeStage(group)
	return b
}

func (b *Builder) Sort(order any, opts ...StageOption) *Builder {
	return b.addDocument("$sort", order, opts)
}

func (b *Builder) Limit(n int64, opts ...StageOption) *Builder {
	return b.addValue("$limit", n, opts)
}

func (b *Builder) Skip(n int64, opts ...StageOption) *Builder {
	return b.addValue("$skip", n, opts)
}

func (b *Builder) Count(field string, opts ...StageOption) *Builder {
	return b.addValue("$count", field, opts)
}

func (b *Builder) Unset(fields []string, opts ...StageOption) *Builder {
	return b.addValue("$unset", fields, opts)
}

// ReplaceRoot adds {$replaceRoot: {newRoot: newRoot}}.
func (b *Builder) ReplaceRoot(newRoot any, opts ...StageOption) *Builder {
	if !b.openStage("replaceRoot", collectOptions(opts)) {
		return b
	}
	b.closeStage(ReplaceRoot(newRoot))
	return b
}

// Unwind adds an $unwind of path. IncludeArrayIndex and
// PreserveNullAndEmptyArrays are honored when given.
func (b *Builder) Unwind(path string, opts ...StageOption) *Builder {
	o := collectOptions(opts)
	if !b.openStage("unwind", o) {
		return b
	}
	b.closeStage(UnwindWith(path, o.IncludeArrayIndex, o.PreserveNullAndEmptyArrays))
	return b
}

// Facet adds a $facet stage with complete branches, e.g.
// Facet(bson.D{{Key: "docs", Value: other.Get()}}).
func (b *Builder) Facet(branches any, opts ...StageOption) *Builder {
	return b.addDocument("$facet", branches, opts)
}

// StartFacet opens the facet branch name: it is added to the last stage if
// that is a $facet, or to a new $facet stage otherwise. Stages added until
// EndFacet go into the branch instead of the top-level pipeline.
func (b *Builder) StartFacet(name string, opts ...StageOption) *Builder {
	if !b.openStage("facet", collectOptions(opts)) {
		return b
	}

	latest, ok := topLevelSink{b: b}.last()
	if ok && stageName(latest) == "$facet" {
		body, err := toDocument(latest[0].Value)
		if err != nil {
			b.fail(errors.Wrap(err, "converting $facet payload"))
			return b
		}
		if i := indexOf(body, name); i >= 0 {
			body[i].Value = mongo.Pipeline{}
		} else {
			body = append(body, bson.E{Key: name, Value: mongo.Pipeline{}})
		}
		latest[0].Value = body
	} else {
		b.stages = append(b.stages, Facet(Field(name, mongo.Pipeline{})))
	}

	b.sink = facetSink{b: b, branch: name}
	return b
}

// EndFacet routes subsequent stages back to the top-level pipeline.
func (b *Builder) EndFacet(opts ...StageOption) *Builder {
	if !b.openStage("facet", collectOptions(opts)) {
		return b
	}
	b.sink = topLevelSink{b: b}
	return b
}

// Package plan applies pipeline definition files to an agg.Builder.
//
// A definition is a relaxed extended JSON array of stage documents. Each
// document holds one stage key and, optionally, an "$options" document with
// the builder options of that call:
//
//	[
//	  {"$match": {"status": "A"}, "$options": {"alone": "status"}},
//	  {"$if": false},
//	  {"$limit": 10},
//	  {"$startFacet": "docs"},
//	  {"$sort": {"_id": -1}},
//	  {"$endFacet": true}
//	]
//
// Stages the builder has a method for go through it, so merging, gating
// and facet routing apply. Other stages are added as they are.
package plan

import (
	"io"

	"github.com/matthewdale/mongo-agg/agg"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

var ErrInvalidEntry = errors.New("invalid pipeline definition entry")

const (
	optionsKey       = "$options"
	applyLookupKey   = "$applyLookup"
	lookupOptionsKey = "$lookupOptions"
)

// Load parses a pipeline definition.
func Load(r io.Reader) ([]bson.D, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading pipeline definition")
	}

	wrapped := make([]byte, 0, len(data)+12)
	wrapped = append(wrapped, `{"stages":`...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, '}')

	var def struct {
		Stages []bson.D `bson:"stages"`
	}
	if err := bson.UnmarshalExtJSON(wrapped, false, &def); err != nil {
		return nil, errors.Wrap(err, "parsing pipeline definition")
	}
	return def.Stages, nil
}

// Apply adds every entry to b in order. It returns the first entry that
// cannot be interpreted, or the builder's error.
func Apply(b *agg.Builder, entries []bson.D) error {
	for i, entry := range entries {
		if err := apply(b, entry); err != nil {
			return errors.Wrapf(err, "entry %d", i)
		}
	}
	return b.Err()
}

func apply(b *agg.Builder, entry bson.D) error {
	var (
		stage bson.E
		found bool
		opts  []agg.StageOption
	)
	for _, e := range entry {
		if e.Key == optionsKey {
			o, err := decodeOptions(e.Value)
			if err != nil {
				return err
			}
			opts = append(opts, agg.WithOptions(o))
			continue
		}
		if found {
			return errors.Wrapf(ErrInvalidEntry, "both %s and %s", stage.Key, e.Key)
		}
		stage, found = e, true
	}
	if !found {
		return errors.Wrap(ErrInvalidEntry, "no stage")
	}

	switch stage.Key {
	case "$if":
		cond, ok := stage.Value.(bool)
		if !ok {
			return errors.Wrapf(ErrInvalidEntry, "$if must be a boolean, got %T", stage.Value)
		}
		b.If(cond)
	case "$match":
		b.Match(stage.Value, opts...)
	case "$addFields":
		b.AddFields(stage.Value, opts...)
	case "$set":
		b.Set(stage.Value, opts...)
	case "$project":
		b.Project(stage.Value, opts...)
	case "$amendProject":
		b.AmendProject(stage.Value, opts...)
	case "$sort":
		b.Sort(stage.Value, opts...)
	case "$facet":
		b.Facet(stage.Value, opts...)
	case "$group":
		doc, err := document(stage)
		if err != nil {
			return err
		}
		id, acc := splitKey(doc, "_id")
		b.Group(id, acc, opts...)
	case "$amendGroup":
		return amendGroup(b, stage, opts)
	case "$limit":
		n, err := integer(stage)
		if err != nil {
			return err
		}
		b.Limit(n, opts...)
	case "$skip":
		n, err := integer(stage)
		if err != nil {
			return err
		}
		b.Skip(n, opts...)
	case "$count":
		field, ok := stage.Value.(string)
		if !ok {
			return errors.Wrapf(ErrInvalidEntry, "$count must be a string, got %T", stage.Value)
		}
		b.Count(field, opts...)
	case "$unset":
		fields, err := stringList(stage)
		if err != nil {
			return err
		}
		b.Unset(fields, opts...)
	case "$replaceRoot":
		doc, err := document(stage)
		if err != nil {
			return err
		}
		newRoot, rest := splitKey(doc, "newRoot")
		if newRoot == nil || len(rest) > 0 {
			return errors.Wrap(ErrInvalidEntry, "$replaceRoot takes exactly a newRoot field")
		}
		b.ReplaceRoot(newRoot, opts...)
	case "$lookup":
		l, err := agg.DecodeLookup(stage.Value)
		if err != nil {
			return err
		}
		b.Lookup(l, opts...)
	case "$unwind":
		return unwind(b, stage, opts)
	case "$startFacet":
		name, ok := stage.Value.(string)
		if !ok || name == "" {
			return errors.Wrapf(ErrInvalidEntry, "$startFacet must be a branch name, got %v", stage.Value)
		}
		b.StartFacet(name, opts...)
	case "$endFacet":
		b.EndFacet(opts...)
	default:
		b.Stage(bson.D{stage}, opts...)
	}
	return nil
}

func amendGroup(b *agg.Builder, stage bson.E, opts []agg.StageOption) error {
	doc, err := document(stage)
	if err != nil {
		return err
	}
	id, acc := splitKey(doc, "_id")
	l, acc := splitKey(acc, applyLookupKey)
	lookupOpts, acc := splitKey(acc, lookupOptionsKey)

	if l != nil {
		lookup, err := agg.DecodeLookup(l)
		if err != nil {
			return err
		}
		var applyOpts []agg.StageOption
		if lookupOpts != nil {
			o, err := decodeOptions(lookupOpts)
			if err != nil {
				return err
			}
			applyOpts = append(applyOpts, agg.WithOptions(o))
		}
		opts = append(opts, agg.ApplyLookup(lookup, applyOpts...))
	}
	b.AmendGroup(id, acc, opts...)
	return nil
}

func unwind(b *agg.Builder, stage bson.E, opts []agg.StageOption) error {
	if path, ok := stage.Value.(string); ok {
		b.Unwind(path, opts...)
		return nil
	}
	doc, err := document(stage)
	if err != nil {
		return err
	}

	var path string
	for _, e := range doc {
		switch e.Key {
		case "path":
			path, _ = e.Value.(string)
		case "includeArrayIndex":
			field, _ := e.Value.(string)
			opts = append(opts, agg.IncludeArrayIndex(field))
		case "preserveNullAndEmptyArrays":
			preserve, _ := e.Value.(bool)
			opts = append(opts, agg.PreserveNullAndEmptyArrays(preserve))
		default:
			return errors.Wrapf(ErrInvalidEntry, "unknown $unwind field %q", e.Key)
		}
	}
	if path == "" {
		return errors.Wrap(ErrInvalidEntry, "$unwind needs a path")
	}
	b.Unwind(path, opts...)
	return nil
}

func decodeOptions(v any) (agg.Options, error) {
	d, ok := v.(bson.D)
	if !ok {
		return agg.Options{}, errors.Wrapf(ErrInvalidEntry, "%s must be a document, got %T", optionsKey, v)
	}
	return agg.DecodeOptions(toMap(d))
}

// toMap converts a decoded document to plain maps and slices for
// mapstructure.
func toMap(d bson.D) map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = plain(e.Value)
	}
	return m
}

func plain(v any) any {
	switch val := v.(type) {
	case bson.D:
		return toMap(val)
	case bson.A:
		out := make([]any, len(val))
		for i := range val {
			out[i] = plain(val[i])
		}
		return out
	}
	return v
}

func document(stage bson.E) (bson.D, error) {
	d, ok := stage.Value.(bson.D)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidEntry, "%s must be a document, got %T", stage.Key, stage.Value)
	}
	return d, nil
}

// splitKey returns the value of key and the rest of the document.
func splitKey(d bson.D, key string) (any, bson.D) {
	var value any
	rest := make(bson.D, 0, len(d))
	for _, e := range d {
		if e.Key == key {
			value = e.Value
			continue
		}
		rest = append(rest, e)
	}
	return value, rest
}

func integer(stage bson.E) (int64, error) {
	switch n := stage.Value.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidEntry, "%s must be an integer, got %v", stage.Key, stage.Value)
}

func stringList(stage bson.E) ([]string, error) {
	switch val := stage.Value.(type) {
	case string:
		return []string{val}, nil
	case bson.A:
		out := make([]string, 0, len(val))
		for _, v := range val {
			s, ok := v.(string)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidEntry, "%s must list strings, got %T", stage.Key, v)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrInvalidEntry, "%s must be a string or an array of strings, got %T", stage.Key, stage.Value)
}

// Package agg builds MongoDB aggregation pipelines. Stage and operator
// constructors return plain bson.D values; Builder chains them into a
// mongo.Pipeline with conditional, de-duplicating and facet-routing
// conveniences.
package agg

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type FieldExpr bson.E

func Field(name string, expr any) FieldExpr {
	return FieldExpr{Key: name, Value: expr}
}

// Fields collects field expressions into a document, keeping their order.
func Fields(fields ...FieldExpr) bson.D {
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		d = append(d, bson.E(f))
	}
	return d
}

type SortBy bson.E

func SortAscending(fieldName string) SortBy {
	return SortBy{Key: fieldName, Value: 1}
}

func SortDescending(fieldName string) SortBy {
	return SortBy{Key: fieldName, Value: -1}
}

func SortExpr(fieldName string, expr any) SortBy {
	return SortBy{Key: fieldName, Value: expr}
}

// SortOrder collects sort keys into the document form $sort expects.
func SortOrder(sorts ...SortBy) bson.D {
	return sortBysToD(sorts)
}

func sortBysToD(sorts []SortBy) bson.D {
	d := make(bson.D, len(sorts))
	for i := range sorts {
		d[i] = bson.E(sorts[i])
	}
	return d
}

// toDocument normalizes a caller-supplied document into a fresh bson.D that
// the builder may mutate. Maps are ordered by key so output is deterministic.
func toDocument(v any) (bson.D, error) {
	switch d := v.(type) {
	case nil:
		return bson.D{}, nil
	case bson.D:
		return append(bson.D{}, d...), nil
	case Operator:
		return append(bson.D{}, d...), nil
	case []FieldExpr:
		return Fields(d...), nil
	case bson.M:
		return mapToD(d), nil
	case map[string]any:
		return mapToD(d), nil
	}

	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func mapToD(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

func indexOf(d bson.D, key string) int {
	for i := range d {
		if d[i].Key == key {
			return i
		}
	}
	return -1
}

// mergeDocs shallow-merges src into dst. Existing keys keep their position
// and take the new value; new keys are appended.
func mergeDocs(dst, src bson.D) bson.D {
	for _, e := range src {
		if i := indexOf(dst, e.Key); i >= 0 {
			dst[i].Value = e.Value
			continue
		}
		dst = append(dst, e)
	}
	return dst
}

// appendToArray appends item to an array-valued field value, converting the
// value to bson.A. ok is false if v is not an array.
func appendToArray(v, item any) (bson.A, bool) {
	switch arr := v.(type) {
	case nil:
		return bson.A{item}, true
	case bson.A:
		return append(arr, item), true
	case []any:
		return append(bson.A(arr), item), true
	case []bson.D:
		a := make(bson.A, 0, len(arr)+1)
		for _, d := range arr {
			a = append(a, d)
		}
		return append(a, item), true
	case mongo.Pipeline:
		return appendToArray([]bson.D(arr), item)
	}
	return nil, false
}

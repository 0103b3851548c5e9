package agg

import "go.mongodb.org/mongo-driver/bson"

type Stage = bson.D

func AddFields(fields ...FieldExpr) Stage {
	return Stage{{Key: "$addFields", Value: Fields(fields...)}}
}

func Count(fieldName string) Stage {
	return Stage{{Key: "$count", Value: fieldName}}
}

// CountAccumulator is the $count accumulator of $group, not the $count stage.
func CountAccumulator() Operator {
	return Operator{{Key: "$count", Value: bson.D{}}}
}

func Facet(branches ...FieldExpr) Stage {
	return Stage{{Key: "$facet", Value: Fields(branches...)}}
}

func Group(key any, accumulators ...FieldExpr) Stage {
	body := bson.D{{
		Key:   "_id",
		Value: key,
	}}
	for _, acc := range accumulators {
		body = append(body, bson.E(acc))
	}

	return Stage{{
		Key:   "$group",
		Value: body,
	}}
}

func Limit(n int64) Stage {
	return Stage{{Key: "$limit", Value: n}}
}

func Match(query any) Stage {
	return Stage{{Key: "$match", Value: query}}
}

func Project(specifications ...FieldExpr) Stage {
	return Stage{{
		Key:   "$project",
		Value: Fields(specifications...),
	}}
}

func ReplaceRoot(newRoot any) Stage {
	return Stage{{
		Key: "$replaceRoot",
		Value: bson.D{{
			Key:   "newRoot",
			Value: newRoot,
		}},
	}}
}

func Set(fields ...FieldExpr) Stage {
	return Stage{{Key: "$set", Value: Fields(fields...)}}
}

func Skip(n int64) Stage {
	return Stage{{Key: "$skip", Value: n}}
}

func Sort(sortBys ...SortBy) Stage {
	return Stage{{Key: "$sort", Value: sortBysToD(sortBys)}}
}

func Unset(fields ...string) Stage {
	return Stage{{Key: "$unset", Value: fields}}
}

func Unwind(fieldPath string) Stage {
	return UnwindWith(fieldPath, "", nil)
}

// UnwindWith builds an $unwind with its optional behaviors. An empty
// includeArrayIndex and a nil preserveNullAndEmptyArrays are left out.
func UnwindWith(fieldPath, includeArrayIndex string, preserveNullAndEmptyArrays *bool) Stage {
	body := bson.D{{
		Key:   "path",
		Value: fieldPath,
	}}
	if includeArrayIndex != "" {
		body = append(body, bson.E{Key: "includeArrayIndex", Value: includeArrayIndex})
	}
	if preserveNullAndEmptyArrays != nil {
		body = append(body, bson.E{Key: "preserveNullAndEmptyArrays", Value: *preserveNullAndEmptyArrays})
	}

	return Stage{{
		Key:   "$unwind",
		Value: body,
	}}
}

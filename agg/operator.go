package agg

import "go.mongodb.org/mongo-driver/bson"

type Operator bson.D

// comparands normalizes the arguments of an operator that takes an array:
// a single array argument is used as the array itself.
func comparands(exprs []any) bson.A {
	if len(exprs) == 1 {
		switch arr := exprs[0].(type) {
		case bson.A:
			return arr
		case []any:
			return bson.A(arr)
		}
	}
	return bson.A(exprs)
}

func Abs(numExpr any) Operator {
	return Operator{{Key: "$abs", Value: numExpr}}
}

// AccumulatorSpec is the body of a custom $accumulator. Lang defaults to
// "js".
type AccumulatorSpec struct {
	Init           any
	InitArgs       any
	Accumulate     any
	AccumulateArgs any
	Merge          any
	Finalize       any
	Lang           string
}

func Accumulator(spec AccumulatorSpec) Operator {
	body := bson.D{{Key: "init", Value: spec.Init}}
	if spec.InitArgs != nil {
		body = append(body, bson.E{Key: "initArgs", Value: spec.InitArgs})
	}
	body = append(body,
		bson.E{Key: "accumulate", Value: spec.Accumulate},
		bson.E{Key: "accumulateArgs", Value: spec.AccumulateArgs},
		bson.E{Key: "merge", Value: spec.Merge},
	)
	if spec.Finalize != nil {
		body = append(body, bson.E{Key: "finalize", Value: spec.Finalize})
	}
	body = append(body, bson.E{Key: "lang", Value: langOrJS(spec.Lang)})

	return Operator{{Key: "$accumulator", Value: body}}
}

func langOrJS(lang string) string {
	if lang == "" {
		return "js"
	}
	return lang
}

func Add(exprs ...any) Operator {
	return Operator{{Key: "$add", Value: comparands(exprs)}}
}

func AddToSet(expr any) Operator {
	return Operator{{Key: "$addToSet", Value: expr}}
}

func And(exprs ...any) Operator {
	return Operator{{Key: "$and", Value: comparands(exprs)}}
}

func ArrayElemAt(arrayExpr, idxExpr any) Operator {
	return Operator{{
		Key:   "$arrayElemAt",
		Value: bson.A{arrayExpr, idxExpr},
	}}
}

func Avg(expr any) Operator {
	return Operator{{Key: "$avg", Value: expr}}
}

func Bottom(outputExpr any, sortBys ...SortBy) Operator {
	return Operator{{
		Key: "$bottom",
		Value: bson.D{{
			Key:   "sortBy",
			Value: sortBysToD(sortBys),
		}, {
			Key:   "output",
			Value: outputExpr,
		}},
	}}
}

func BottomN(outputExpr any, n int64, sortBys ...SortBy) Operator {
	return BottomNExpr(outputExpr, n, sortBys...)
}

func BottomNExpr(outputExpr, nExpr any, sortBys ...SortBy) Operator {
	return Operator{{
		Key: "$bottomN",
		Value: bson.D{{
			Key:   "n",
			Value: nExpr,
		}, {
			Key:   "sortBy",
			Value: sortBysToD(sortBys),
		}, {
			Key:   "output",
			Value: outputExpr,
		}},
	}}
}

func Concat(exprs ...any) Operator {
	return Operator{{Key: "$concat", Value: comparands(exprs)}}
}

func ConcatArrays(arrayExprs ...any) Operator {
	return Operator{{Key: "$concatArrays", Value: bson.A(arrayExprs)}}
}

func Cond(ifExpr, thenExpr, elseExpr any) Operator {
	return Operator{{
		Key: "$cond",
		Value: bson.D{{
			Key:   "if",
			Value: ifExpr,
		}, {
			Key:   "then",
			Value: thenExpr,
		}, {
			Key:   "else",
			Value: elseExpr,
		}},
	}}
}

func Convert(inputExpr, to any) Operator {
	return Operator{{
		Key: "$convert",
		Value: bson.D{
			{Key: "input", Value: inputExpr},
			{Key: "to", Value: to},
		},
	}}
}

// DateFromString leaves format, timezone and onNull out when they are nil.
func DateFromString(dateStringExpr, format, timezone, onNull any) Operator {
	body := bson.D{{Key: "dateString", Value: dateStringExpr}}
	if format != nil {
		body = append(body, bson.E{Key: "format", Value: format})
	}
	if timezone != nil {
		body = append(body, bson.E{Key: "timezone", Value: timezone})
	}
	if onNull != nil {
		body = append(body, bson.E{Key: "onNull", Value: onNull})
	}
	return Operator{{Key: "$dateFromString", Value: body}}
}

// DateToString formats with "%Y-%m-%d" when format is empty.
func DateToString(dateExpr any, format, timezone string) Operator {
	if format == "" {
		format = "%Y-%m-%d"
	}
	body := bson.D{
		{Key: "date", Value: dateExpr},
		{Key: "format", Value: format},
	}
	if timezone != "" {
		body = append(body, bson.E{Key: "timezone", Value: timezone})
	}
	return Operator{{Key: "$dateToString", Value: body}}
}

func datePart(op string, dateExpr any, timezone string) Operator {
	body := bson.D{{Key: "date", Value: dateExpr}}
	if timezone != "" {
		body = append(body, bson.E{Key: "timezone", Value: timezone})
	}
	return Operator{{Key: op, Value: body}}
}

func DayOfMonth(dateExpr any, timezone string) Operator {
	return datePart("$dayOfMonth", dateExpr, timezone)
}

func Divide(numeratorExpr, denomExpr any) Operator {
	return Operator{{
		Key:   "$divide",
		Value: bson.A{numeratorExpr, denomExpr},
	}}
}

func Eq(exprs ...any) Operator {
	return Operator{{Key: "$eq", Value: comparands(exprs)}}
}

func Expr(expr any) Operator {
	return Operator{{Key: "$expr", Value: expr}}
}

// Filter leaves "as" out when empty and "limit" out when nil.
func Filter(inputExpr any, as string, condExpr, limitExpr any) Operator {
	body := bson.D{{
		Key:   "input",
		Value: inputExpr,
	}, {
		Key:   "cond",
		Value: condExpr,
	}}
	if len(as) > 0 {
		body = append(body, bson.E{Key: "as", Value: as})
	}
	if limitExpr != nil {
		body = append(body, bson.E{Key: "limit", Value: limitExpr})
	}

	return Operator{{
		Key:   "$filter",
		Value: body,
	}}
}

func First(expr any) Operator {
	return Operator{{Key: "$first", Value: expr}}
}

func Function(body any, args bson.A, lang string) Operator {
	if args == nil {
		args = bson.A{}
	}
	return Operator{{
		Key: "$function",
		Value: bson.D{
			{Key: "body", Value: body},
			{Key: "args", Value: args},
			{Key: "lang", Value: langOrJS(lang)},
		},
	}}
}

func Gt(exprs ...any) Operator {
	return Operator{{Key: "$gt", Value: comparands(exprs)}}
}

func Gte(exprs ...any) Operator {
	return Operator{{Key: "$gte", Value: comparands(exprs)}}
}

func IfNull(exprs ...any) Operator {
	return Operator{{Key: "$ifNull", Value: comparands(exprs)}}
}

func In(targetExpr, arrExpr any) Operator {
	return Operator{{
		Key:   "$in",
		Value: bson.A{targetExpr, arrExpr},
	}}
}

func IsArray(expr any) Operator {
	return Operator{{Key: "$isArray", Value: expr}}
}

func IsNumber(expr any) Operator {
	return Operator{{Key: "$isNumber", Value: expr}}
}

func Last(expr any) Operator {
	return Operator{{Key: "$last", Value: expr}}
}

func Lt(exprs ...any) Operator {
	return Operator{{Key: "$lt", Value: comparands(exprs)}}
}

func Lte(exprs ...any) Operator {
	return Operator{{Key: "$lte", Value: comparands(exprs)}}
}

func Map(inputExpr any, as string, inExpr any) Operator {
	body := bson.D{{
		Key:   "input",
		Value: inputExpr,
	}}
	if len(as) > 0 {
		body = append(body, bson.E{Key: "as", Value: as})
	}
	body = append(body, bson.E{Key: "in", Value: inExpr})

	return Operator{{
		Key:   "$map",
		Value: body,
	}}
}

// Max takes a bare expression when given one, which is the form $max
// accepts as a $group accumulator.
func Max(exprs ...any) Operator {
	var body any
	if len(exprs) == 1 {
		body = exprs[0]
	} else {
		body = bson.A(exprs)
	}

	return Operator{{
		Key:   "$max",
		Value: body,
	}}
}

func MergeObjects(documentExprs ...any) Operator {
	var body any
	if len(documentExprs) == 1 {
		body = documentExprs[0]
	} else {
		body = bson.A(documentExprs)
	}

	return Operator{{
		Key:   "$mergeObjects",
		Value: body,
	}}
}

func Min(exprs ...any) Operator {
	var body any
	if len(exprs) == 1 {
		body = exprs[0]
	} else {
		body = bson.A(exprs)
	}

	return Operator{{
		Key:   "$min",
		Value: body,
	}}
}

func Month(dateExpr any, timezone string) Operator {
	return datePart("$month", dateExpr, timezone)
}

func Multiply(exprs ...any) Operator {
	return Operator{{Key: "$multiply", Value: comparands(exprs)}}
}

func Ne(exprs ...any) Operator {
	return Operator{{Key: "$ne", Value: comparands(exprs)}}
}

func Or(exprs ...any) Operator {
	return Operator{{
		Key:   "$or",
		Value: comparands(exprs),
	}}
}

func Pull(condition any) Operator {
	return Operator{{Key: "$pull", Value: condition}}
}

func Push(expr any) Operator {
	return Operator{{Key: "$push", Value: expr}}
}

func Reduce(inputExpr, initialValueExpr, inExpr any) Operator {
	return Operator{{
		Key: "$reduce",
		Value: bson.D{{
			Key:   "input",
			Value: inputExpr,
		}, {
			Key:   "initialValue",
			Value: initialValueExpr,
		}, {
			Key:   "in",
			Value: inExpr,
		}},
	}}
}

// ReduceAndConcat flattens inputExpr, an array of arrays, into one array.
// With a key, the key field of each element is concatenated instead of the
// element. A non-nil condExpr skips the elements it is false for.
func ReduceAndConcat(inputExpr, initialValueExpr any, key string, condExpr any) Operator {
	this := "$$this"
	if key != "" {
		this = "$$this." + key
	}
	var in any = ConcatArrays("$$value", this)
	if condExpr != nil {
		in = Cond(condExpr, in, "$$value")
	}
	return Reduce(inputExpr, initialValueExpr, in)
}

func Round(numExpr any, place int) Operator {
	return Operator{{Key: "$round", Value: bson.A{numExpr, place}}}
}

func Size(arrayExpr any) Operator {
	return Operator{{Key: "$size", Value: arrayExpr}}
}

func StrLenCP(strExpr any) Operator {
	return Operator{{Key: "$strLenCP", Value: strExpr}}
}

func Substr(strExpr any, start, length int64) Operator {
	return Operator{{Key: "$substr", Value: bson.A{strExpr, start, length}}}
}

func Subtract(expr1, expr2 any) Operator {
	return Operator{{Key: "$subtract", Value: bson.A{expr1, expr2}}}
}

func Sum(numExpr any) Operator {
	return Operator{{Key: "$sum", Value: numExpr}}
}

type SwitchCase struct {
	Case any `bson:"case"`
	Then any `bson:"then"`
}

// Switch leaves "default" out when defaultExpr is nil.
func Switch(branches []SwitchCase, defaultExpr any) Operator {
	body := bson.D{{Key: "branches", Value: branches}}
	if defaultExpr != nil {
		body = append(body, bson.E{Key: "default", Value: defaultExpr})
	}
	return Operator{{Key: "$switch", Value: body}}
}

func ToObjectID(expr any) Operator {
	return Operator{{Key: "$toObjectId", Value: expr}}
}

func Top(outputExpr any, sortBy ...SortBy) Operator {
	return Operator{{
		Key: "$top",
		Value: bson.D{{
			Key:   "sortBy",
			Value: sortBysToD(sortBy),
		}, {
			Key:   "output",
			Value: outputExpr,
		}},
	}}
}

func TopN(outputExpr any, n int64, sortBy ...SortBy) Operator {
	return TopNExpr(outputExpr, n, sortBy...)
}

func TopNExpr(outputExpr, nExpr any, sortBy ...SortBy) Operator {
	return Operator{{
		Key: "$topN",
		Value: bson.D{{
			Key:   "n",
			Value: nExpr,
		}, {
			Key:   "sortBy",
			Value: sortBysToD(sortBy),
		}, {
			Key:   "output",
			Value: outputExpr,
		}},
	}}
}

func Week(dateExpr any, timezone string) Operator {
	return datePart("$week", dateExpr, timezone)
}

func Year(dateExpr any, timezone string) Operator {
	return datePart("$year", dateExpr, timezone)
}

package agg

import (
	"strings"

	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	objectPlaceholder = "[Object]"
	arrayPlaceholder  = "[Array]"
)

// Show logs the pipeline at info level as relaxed extended JSON. Documents
// and arrays nested deeper than depth levels inside a stage are printed as
// [Object] and [Array]; depth 0 prints everything.
func (b *Builder) Show(depth int) *Builder {
	out, err := Render(b.stages, depth)
	if err != nil {
		b.sender.Send(message.NewErrorWrapMessage(level.Error, err, "rendering aggregation pipeline"))
		return b
	}
	b.sender.Send(message.NewFormattedMessage(level.Info, "aggregation pipeline (%d stages):\n%s", len(b.stages), out))
	return b
}

// Render formats stages as an indented relaxed extended JSON array, cutting
// nesting at depth as Show does.
func Render(stages []bson.D, depth int) (string, error) {
	if depth <= 0 {
		depth = -1
	}

	var sb strings.Builder
	sb.WriteString("[")
	for i, stage := range stages {
		doc := make(bson.D, len(stage))
		for j, e := range stage {
			doc[j] = bson.E{Key: e.Key, Value: limitDepth(e.Value, depth)}
		}
		out, err := bson.MarshalExtJSONIndent(doc, false, false, "  ", "  ")
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n  ")
		sb.Write(out)
	}
	if len(stages) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("]")
	return sb.String(), nil
}

// limitDepth copies v, replacing documents and arrays once remaining levels
// reach zero. A negative remaining never cuts.
func limitDepth(v any, remaining int) any {
	switch val := v.(type) {
	case bson.D:
		return limitDoc(val, remaining)
	case Operator:
		return limitDoc(bson.D(val), remaining)
	case bson.M:
		return limitDoc(mapToD(val), remaining)
	case map[string]any:
		return limitDoc(mapToD(val), remaining)
	case bson.A:
		return limitArray(val, remaining)
	case []any:
		return limitArray(val, remaining)
	case mongo.Pipeline:
		return limitArray(stagesToA(val), remaining)
	case []bson.D:
		return limitArray(stagesToA(val), remaining)
	}
	return v
}

func limitDoc(d bson.D, remaining int) any {
	if remaining == 0 {
		return objectPlaceholder
	}
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: limitDepth(e.Value, remaining-1)}
	}
	return out
}

func limitArray(a []any, remaining int) any {
	if remaining == 0 {
		return arrayPlaceholder
	}
	out := make(bson.A, len(a))
	for i, v := range a {
		out[i] = limitDepth(v, remaining-1)
	}
	return out
}

func stagesToA(stages []bson.D) []any {
	a := make([]any, len(stages))
	for i, s := range stages {
		a[i] = s
	}
	return a
}

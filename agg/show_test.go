package agg_test

import (
	"testing"

	"github.com/matthewdale/mongo-agg/agg"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestRender(t *testing.T) {
	t.Parallel()

	stages := mongo.Pipeline{
		{{"$match", bson.D{{"a", bson.D{{"b", 1}}}, {"tags", bson.A{"x"}}}}},
		{{"$facet", bson.D{{"docs", mongo.Pipeline{{{"$limit", int64(2)}}}}}}},
	}

	t.Run("zero depth prints everything", func(t *testing.T) {
		t.Parallel()

		out, err := agg.Render(stages, 0)
		require.NoError(t, err)
		assert.JSONEq(t, `[
			{"$match": {"a": {"b": 1}, "tags": ["x"]}},
			{"$facet": {"docs": [{"$limit": 2}]}}
		]`, out)
	})

	t.Run("nesting is cut at depth", func(t *testing.T) {
		t.Parallel()

		out, err := agg.Render(stages, 1)
		require.NoError(t, err)
		assert.JSONEq(t, `[
			{"$match": {"a": "[Object]", "tags": "[Array]"}},
			{"$facet": {"docs": "[Array]"}}
		]`, out)
	})

	t.Run("cutting does not modify the pipeline", func(t *testing.T) {
		t.Parallel()

		_, err := agg.Render(stages, 1)
		require.NoError(t, err)
		assert.Equal(t, bson.D{{"b", 1}}, stages[0][0].Value.(bson.D)[0].Value)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		out, err := agg.Render(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, "[]", out)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		b := agg.New(nil, agg.WithSender(send.MakeInternalLogger())).
			Match(bson.M{"z": 1, "m": 2, "a": 3})
		first, err := agg.Render(b.Get(), 0)
		require.NoError(t, err)
		second, err := agg.Render(b.Get(), 0)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestShow(t *testing.T) {
	t.Parallel()

	sender := send.MakeInternalLogger()
	require.NoError(t, sender.SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.Debug}))

	b := agg.New(nil, agg.WithSender(sender)).
		Match(bson.D{{"a", bson.D{{"b", 1}}}}).
		Show(1)

	require.True(t, sender.HasMessage())
	msg := sender.GetMessage()
	assert.Equal(t, level.Info, msg.Priority)
	assert.Contains(t, msg.Rendered, "aggregation pipeline (1 stages)")
	assert.Contains(t, msg.Rendered, `"[Object]"`)
	assert.Len(t, b.Get(), 1)
}

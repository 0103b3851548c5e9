package plan

import (
	"strings"
	"testing"

	"github.com/matthewdale/mongo-agg/agg"
	"github.com/mongodb/grip/send"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type planSuite struct {
	suite.Suite
	b *agg.Builder
}

func TestPlan(t *testing.T) {
	suite.Run(t, new(planSuite))
}

func (s *planSuite) SetupTest() {
	s.b = agg.New(nil, agg.WithSender(send.MakeInternalLogger()))
}

func (s *planSuite) apply(def string) error {
	entries, err := Load(strings.NewReader(def))
	s.Require().NoError(err)
	return Apply(s.b, entries)
}

func (s *planSuite) TestMatchesMergeAndGate() {
	s.Require().NoError(s.apply(`[
		{"$match": {"status": "A"}},
		{"$match": {"qty": 5}},
		{"$if": false},
		{"$limit": 10},
		{"$skip": 2}
	]`))

	s.Equal(mongo.Pipeline{
		{{"$match", bson.D{{"status", "A"}, {"qty", int32(5)}}}},
		{{"$skip", int64(2)}},
	}, s.b.Get())
}

func (s *planSuite) TestOptions() {
	s.Require().NoError(s.apply(`[
		{"$sort": {"a": 1}, "$options": {"alone": "order"}},
		{"$sort": {"b": 1}, "$options": {"alone": "order"}},
		{"$match": {"x": 1}, "$options": {"or": true}},
		{"$match": {"x": 2}, "$options": {"or": true}}
	]`))

	s.Equal(mongo.Pipeline{
		{{"$sort", bson.D{{"a", int32(1)}}}},
		{{"$match", bson.D{{"$or", bson.A{
			bson.D{{"x", int32(1)}},
			bson.D{{"x", int32(2)}},
		}}}}},
	}, s.b.Get())
	s.Equal([]string{"order"}, s.b.Alones())
}

func (s *planSuite) TestFacet() {
	s.Require().NoError(s.apply(`[
		{"$startFacet": "docs"},
		{"$limit": 2},
		{"$startFacet": "total"},
		{"$count": "n"},
		{"$endFacet": true},
		{"$unwind": "$total"}
	]`))

	s.Equal(mongo.Pipeline{
		{{"$facet", bson.D{
			{"docs", mongo.Pipeline{{{"$limit", int64(2)}}}},
			{"total", mongo.Pipeline{{{"$count", "n"}}}},
		}}},
		{{"$unwind", bson.D{{"path", "$total"}}}},
	}, s.b.Get())
}

func (s *planSuite) TestGroupLookup() {
	s.Require().NoError(s.apply(`[
		{"$group": {"_id": {"day": "$day"}, "n": {"$sum": 1}}},
		{"$amendGroup": {
			"_id": {"owner": "$owner"},
			"$applyLookup": {"from": "users", "localField": "owner"},
			"$lookupOptions": {"unwind": true}
		}, "$options": {"checkLookup": ["owner"]}}
	]`))

	s.Equal(mongo.Pipeline{
		{{"$lookup", bson.D{
			{"from", "users"},
			{"localField", "owner"},
			{"foreignField", "_id"},
			{"as", "owner"},
		}}},
		{{"$unwind", bson.D{
			{"path", "$owner"},
			{"preserveNullAndEmptyArrays", true},
		}}},
		{{"$group", bson.D{
			{"_id", bson.D{{"day", "$day"}, {"owner", "$owner._id"}}},
			{"n", bson.D{{"$sum", int32(1)}}},
		}}},
	}, s.b.Get())
}

func (s *planSuite) TestUnwindDocument() {
	s.Require().NoError(s.apply(`[
		{"$unwind": {"path": "$tags", "includeArrayIndex": "i", "preserveNullAndEmptyArrays": false}}
	]`))

	s.Equal(mongo.Pipeline{
		{{"$unwind", bson.D{
			{"path", "$tags"},
			{"includeArrayIndex", "i"},
			{"preserveNullAndEmptyArrays", false},
		}}},
	}, s.b.Get())
}

func (s *planSuite) TestOtherStagesPassThrough() {
	s.Require().NoError(s.apply(`[
		{"$sample": {"size": 3}},
		{"$unset": ["a", "b"]},
		{"$replaceRoot": {"newRoot": "$doc"}}
	]`))

	s.Equal(mongo.Pipeline{
		{{"$sample", bson.D{{"size", int32(3)}}}},
		{{"$unset", []string{"a", "b"}}},
		{{"$replaceRoot", bson.D{{"newRoot", "$doc"}}}},
	}, s.b.Get())
}

func (s *planSuite) TestInvalidEntries() {
	for name, def := range map[string]string{
		"two stages":          `[{"$match": {}, "$limit": 1}]`,
		"no stage":            `[{"$options": {"alone": "x"}}]`,
		"non-boolean if":      `[{"$if": 1}]`,
		"fractional limit":    `[{"$limit": 1.5}]`,
		"unwind without path": `[{"$unwind": {"includeArrayIndex": "i"}}]`,
		"bad replace root":    `[{"$replaceRoot": {"newRoot": "$a", "extra": 1}}]`,
	} {
		s.Run(name, func() {
			s.SetupTest()
			s.ErrorIs(s.apply(def), ErrInvalidEntry)
		})
	}
}

func (s *planSuite) TestUnknownOption() {
	s.Error(s.apply(`[{"$limit": 1, "$options": {"bogus": true}}]`))
	s.Empty(s.b.Get())
}

func (s *planSuite) TestBuilderErrorIsReturned() {
	err := s.apply(`[{"$lookup": {"from": "users"}}]`)
	s.ErrorIs(err, agg.ErrMissingField)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("extended json values", func(t *testing.T) {
		t.Parallel()

		entries, err := Load(strings.NewReader(`[{"$match": {"n": {"$numberLong": "7"}}}]`))
		require.NoError(t, err)
		assert.Equal(t, []bson.D{{{"$match", bson.D{{"n", int64(7)}}}}}, entries)
	})

	t.Run("not an array", func(t *testing.T) {
		t.Parallel()

		_, err := Load(strings.NewReader(`{"$match": {}}`))
		assert.Error(t, err)
	})
}

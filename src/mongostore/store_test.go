package mongostore

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"refquery/src/models"
	"refquery/src/refquery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap/zaptest"
)

// fakeCollection serves documents from memory, understanding top-level equality and $in only.
type fakeCollection struct {
	docs    []bson.M
	filters []bson.M
	err     error
}

func (f *fakeCollection) matching(filter interface{}) []interface{} {
	m, _ := filter.(bson.M)
	f.filters = append(f.filters, m)

	var out []interface{}
	for _, doc := range f.docs {
		if fakeMatch(doc, m) {
			out = append(out, doc)
		}
	}
	return out
}

func fakeMatch(doc, filter bson.M) bool {
	for k, want := range filter {
		got := doc[k]
		if cond, ok := want.(bson.M); ok {
			in, hasIn := cond["$in"].(bson.A)
			if !hasIn {
				return false
			}
			found := false
			for _, v := range in {
				if reflect.DeepEqual(v, got) {
					found = true
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func (f *fakeCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return mongo.NewCursorFromDocuments(f.matching(filter), nil, nil)
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	if f.err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.err, nil)
	}
	docs := f.matching(filter)
	if len(docs) == 0 {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(docs[0], nil, nil)
}

func (f *fakeCollection) Distinct(_ context.Context, field string, filter interface{}, _ ...*options.DistinctOptions) ([]interface{}, error) {
	var out []interface{}
	for _, d := range f.matching(filter) {
		out = append(out, d.(bson.M)[field])
	}
	return out, nil
}

func (f *fakeCollection) CountDocuments(_ context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	return int64(len(f.matching(filter))), nil
}

type fixture struct {
	store            *Store
	agents, authors  *fakeCollection
	authorColl       *Collection
	agent1, agent2   primitive.ObjectID
	author1, author2 primitive.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	f := &fixture{
		store:   New(nil, logger),
		agent1:  primitive.NewObjectID(),
		agent2:  primitive.NewObjectID(),
		author1: primitive.NewObjectID(),
		author2: primitive.NewObjectID(),
	}
	f.agents = &fakeCollection{docs: []bson.M{
		{"_id": f.agent1, "name": "agent1"},
		{"_id": f.agent2, "name": "agent2"},
	}}
	f.authors = &fakeCollection{docs: []bson.M{
		{"_id": f.author1, "name": "author1", "agent": f.agent1},
		{"_id": f.author2, "name": "author2", "agent": f.agent2},
	}}

	f.store.register(models.NewSchema("Agent", models.FieldDefinition{Name: "name"}), f.agents)
	f.authorColl = f.store.register(models.NewSchema("Author",
		models.FieldDefinition{Name: "name"},
		models.FieldDefinition{Name: "agent", Ref: "Agent"}), f.authors)

	plugin, err := refquery.New(refquery.Options{}, logger)
	require.NoError(t, err)
	plugin.Install(f.authorColl)
	return f
}

func TestFindResolvesReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	docs, err := f.authorColl.Find(ctx, bson.M{"agent": bson.M{"name": "agent2"}}, nil,
		models.QueryOptions{UseFindWithinReference: true})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, f.author2, docs[0]["_id"])

	assert.Equal(t, []bson.M{{"name": "agent2"}}, f.agents.filters)
	assert.Equal(t, []bson.M{{"agent": f.agent2}}, f.authors.filters)
}

func TestFindWithoutFlagSendsFilterAsIs(t *testing.T) {
	f := newFixture(t)

	filter := bson.M{"agent": bson.M{"name": "agent2"}}
	docs, err := f.authorColl.Find(context.Background(), filter, nil, models.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, f.agents.filters)
	assert.Equal(t, []bson.M{{"agent": bson.M{"name": "agent2"}}}, f.authors.filters)
}

func TestOtherOperationsRunHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := models.QueryOptions{UseFindWithinReference: true}
	byAgent1 := func() bson.M { return bson.M{"agent": bson.M{"name": "agent1"}} }

	one, err := f.authorColl.FindOne(ctx, byAgent1(), nil, opts)
	require.NoError(t, err)
	assert.Equal(t, f.author1, one["_id"])

	none, err := f.authorColl.FindOne(ctx, bson.M{"name": "nobody"}, nil, opts)
	require.NoError(t, err)
	assert.Nil(t, none)

	names, err := f.authorColl.Distinct(ctx, "name", byAgent1(), opts)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"author1"}, names)

	n, err := f.authorColl.Count(ctx, byAgent1(), opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.authorColl.CountDocuments(ctx, bson.M{"agent": bson.M{"name": "nobody"}}, opts)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnregisteredReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Collection("Book")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	books := f.store.register(models.NewSchema("Book",
		models.FieldDefinition{Name: "publisher", Ref: "Publisher"}), &fakeCollection{})
	plugin, err := refquery.New(refquery.Options{IsActiveByDefault: true}, nil)
	require.NoError(t, err)
	plugin.Install(books)

	_, err = books.Find(ctx, bson.M{"publisher": bson.M{"name": "x"}}, nil, models.QueryOptions{})
	assert.ErrorIs(t, err, refquery.ErrCollectionNotRegistered)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestDriverErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.authors.err = boom

	_, err := f.authorColl.Find(context.Background(), nil, nil, models.QueryOptions{})
	assert.ErrorIs(t, err, boom)

	_, err = f.authorColl.FindOne(context.Background(), nil, nil, models.QueryOptions{})
	assert.ErrorIs(t, err, boom)
}

package refquery_test

import (
	"context"
	"testing"

	"refquery/src/engine"
	"refquery/src/models"
	"refquery/src/refquery"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

// library is the shared fixture: agents and publishers are plain bundles,
// books reference a publisher, authors reference an agent and a list of books.
type library struct {
	db *engine.Database

	agents, publishers, books, authors *engine.Bundle

	publisher1, publisher2, publisher3 primitive.ObjectID
	book1, book2, book3, book4         primitive.ObjectID
	agent1, agent2                     primitive.ObjectID
	author1, author2, author3          primitive.ObjectID
}

func librarySchemas() (agent, publisher, book, author *models.Schema) {
	agent = models.NewSchema("Agent",
		models.FieldDefinition{Name: "name", Type: models.FieldTypeString, IsRequired: true})
	publisher = models.NewSchema("Publisher",
		models.FieldDefinition{Name: "name", Type: models.FieldTypeString, IsRequired: true})
	book = models.NewSchema("Book",
		models.FieldDefinition{Name: "title", Type: models.FieldTypeString, IsRequired: true},
		models.FieldDefinition{Name: "isBestSeller", Type: models.FieldTypeBool, IsRequired: true},
		models.FieldDefinition{Name: "publisher", Ref: "Publisher", IsRequired: true})
	author = models.NewSchema("Author",
		models.FieldDefinition{Name: "name", Type: models.FieldTypeString, IsRequired: true},
		models.FieldDefinition{Name: "agent", Ref: "Agent", IsRequired: true},
		models.FieldDefinition{Name: "books", Ref: "Book", Cardinality: models.Array})
	return agent, publisher, book, author
}

// newLibrary builds the fixture and installs a plugin built from opts on Book and Author.
func newLibrary(t *testing.T, opts refquery.Options) (*library, *refquery.Plugin) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	plugin, err := refquery.New(opts, logger)
	require.NoError(t, err)

	lib := &library{db: engine.NewDatabase("library", logger)}
	agentSchema, publisherSchema, bookSchema, authorSchema := librarySchemas()

	lib.agents, err = lib.db.CreateBundle(agentSchema)
	require.NoError(t, err)
	lib.publishers, err = lib.db.CreateBundle(publisherSchema)
	require.NoError(t, err)
	lib.books, err = lib.db.CreateBundle(bookSchema)
	require.NoError(t, err)
	lib.authors, err = lib.db.CreateBundle(authorSchema)
	require.NoError(t, err)

	plugin.Install(lib.books)
	plugin.Install(lib.authors)

	insert := func(b *engine.Bundle, doc bson.M) primitive.ObjectID {
		id, err := b.InsertOne(ctx, doc)
		require.NoError(t, err)
		return id.(primitive.ObjectID)
	}

	lib.publisher1 = insert(lib.publishers, bson.M{"name": "Publisher 1"})
	lib.publisher2 = insert(lib.publishers, bson.M{"name": "Publisher 2"})
	lib.publisher3 = insert(lib.publishers, bson.M{"name": "Publisher 3"})

	lib.book1 = insert(lib.books, bson.M{"title": "book1", "isBestSeller": true, "publisher": lib.publisher1})
	lib.book2 = insert(lib.books, bson.M{"title": "book2", "isBestSeller": false, "publisher": lib.publisher2})
	lib.book3 = insert(lib.books, bson.M{"title": "book3", "isBestSeller": false, "publisher": lib.publisher3})
	lib.book4 = insert(lib.books, bson.M{"title": "book4", "isBestSeller": true, "publisher": lib.publisher2})

	lib.agent1 = insert(lib.agents, bson.M{"name": "agent1"})
	lib.agent2 = insert(lib.agents, bson.M{"name": "agent2"})

	lib.author1 = insert(lib.authors, bson.M{"name": "author1", "agent": lib.agent1, "books": bson.A{lib.book1, lib.book2}})
	lib.author2 = insert(lib.authors, bson.M{"name": "author2", "agent": lib.agent2, "books": bson.A{lib.book3, lib.book4}})
	lib.author3 = insert(lib.authors, bson.M{"name": "author3", "agent": lib.agent1, "books": bson.A{}})

	return lib, plugin
}

func ids(docs []bson.M) []interface{} {
	out := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["_id"])
	}
	return out
}

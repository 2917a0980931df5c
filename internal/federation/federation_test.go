package federation

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/fedgraph/fedgraph/internal/executor"
	language "github.com/fedgraph/fedgraph/internal/language"
	resolve "github.com/fedgraph/fedgraph/internal/resolve"
	schema "github.com/fedgraph/fedgraph/internal/schema"
)

const bookSDL = `
type Book @key(fields: "id") {
	id: ID!
	title: String!
}

type Query {
	book(id: ID!): Book
}
`

func TestComposeEntityUnion(t *testing.T) {
	reg := resolve.NewRegistry()
	composed, err := Compose(bookSDL, reg)
	require.NoError(t, err)

	require.Equal(t, []string{"Book"}, composed.EntityTypes)

	entity := composed.Schema.Types["_Entity"]
	require.NotNil(t, entity)
	require.Equal(t, schema.TypeKindUnion, entity.Kind)
	require.Equal(t, []string{"Book"}, entity.PossibleTypes)

	query := composed.Schema.GetQueryType()
	require.NotNil(t, query)
	var fieldNames []string
	for _, f := range query.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	require.Contains(t, fieldNames, "_entities")
	require.Contains(t, fieldNames, "_service")
	require.Contains(t, fieldNames, "book")

	book := composed.Schema.Types["Book"]
	require.True(t, book.IsEntity())
	require.Equal(t, []string{"id"}, book.Keys)
}

func TestComposeStubsExtensionTargets(t *testing.T) {
	sdl := `
extend type Book {
	reviews: [Review!]!
}

type Review @key(fields: "id") {
	id: ID!
	body: String!
}
`
	composed, err := Compose(sdl, resolve.NewRegistry())
	require.NoError(t, err)

	// Book is owned by another subgraph; the extension attaches to a
	// synthesized stub.
	book := composed.Schema.Types["Book"]
	require.NotNil(t, book)
	require.Equal(t, schema.TypeKindObject, book.Kind)
	require.Len(t, book.Fields, 1)
	require.Equal(t, "reviews", book.Fields[0].Name)
}

func TestComposeExtendsDirectiveMarksExtension(t *testing.T) {
	sdl := `
type Book @extends @key(fields: "id") {
	id: ID! @external
	reviewCount: Int!
}
`
	composed, err := Compose(sdl, resolve.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, []string{"Book"}, composed.EntityTypes)

	book := composed.Schema.Types["Book"]
	require.NotNil(t, book)
	require.Len(t, book.Fields, 2)
}

func TestComposeSynthesizesQueryRoot(t *testing.T) {
	sdl := `
type Review @key(fields: "id") {
	id: ID!
	body: String!
}
`
	composed, err := Compose(sdl, resolve.NewRegistry())
	require.NoError(t, err)

	query := composed.Schema.GetQueryType()
	require.NotNil(t, query)
	var fieldNames []string
	for _, f := range query.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	require.Equal(t, []string{"_entities", "_service"}, fieldNames)
}

func TestComposeIdempotent(t *testing.T) {
	first, err := Compose(bookSDL, resolve.NewRegistry())
	require.NoError(t, err)
	second, err := Compose(bookSDL, resolve.NewRegistry())
	require.NoError(t, err)

	if diff := cmp.Diff(first.SDL, second.SDL); diff != "" {
		t.Fatalf("composed SDL differs between runs (-first +second):\n%s", diff)
	}
}

func TestComposeCollectsAllStructuralErrors(t *testing.T) {
	sdl := `
type Book { id: ID! }
type Book { title: String! }
extend interface Book { x: Int }
`
	_, err := Compose(sdl, resolve.NewRegistry())
	var compErr *CompositionError
	require.ErrorAs(t, err, &compErr)
	require.Len(t, compErr.Errors, 2)
}

func TestComposeRejectsInvalidSchema(t *testing.T) {
	_, err := Compose(`type Query { b: Missing }`, resolve.NewRegistry())
	var compErr *CompositionError
	require.ErrorAs(t, err, &compErr)
}

func TestEntitiesDispatchWithFallback(t *testing.T) {
	reg := resolve.NewRegistry()
	reg.Reference("Book", func(ctx context.Context, rep map[string]any) (any, error) {
		return map[string]any{"id": rep["id"], "title": "Dune"}, nil
	})

	_, err := Compose(bookSDL, reg)
	require.NoError(t, err)

	fr := reg.FieldFor("Query", "_entities")
	require.NotNil(t, fr)
	v, err := fr(context.Background(), nil, map[string]any{
		"representations": []any{
			map[string]any{"__typename": "Book", "id": "1"},
			map[string]any{"__typename": "Unknown", "id": "2"},
		},
	})
	require.NoError(t, err)

	entities := v.([]any)
	require.Len(t, entities, 2)

	resolved := entities[0].(resolve.TypedValue)
	require.Equal(t, "Book", resolved.TypeName)
	require.Equal(t, "Dune", resolved.Value.(map[string]any)["title"])

	// Unregistered types pass the raw representation through,
	// typename-tagged.
	fallback := entities[1].(resolve.TypedValue)
	require.Equal(t, "Unknown", fallback.TypeName)
	require.Equal(t, "2", fallback.Value.(map[string]any)["id"])
}

func TestEntitiesQueryExecution(t *testing.T) {
	reg := resolve.NewRegistry()
	reg.Reference("Book", func(ctx context.Context, rep map[string]any) (any, error) {
		return map[string]any{"id": rep["id"], "title": "Dune"}, nil
	})

	composed, err := Compose(bookSDL, reg)
	require.NoError(t, err)

	query := `
query ($reps: [_Any!]!) {
	_entities(representations: $reps) {
		__typename
		... on Book { title }
	}
}`
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	require.Empty(t, language.ValidateQuery(composed.Validation, doc))

	exec := executor.NewExecutor(resolve.NewRuntime(reg), composed.Schema)
	result := exec.ExecuteRequest(context.Background(), doc, "", map[string]any{
		"reps": []any{map[string]any{"__typename": "Book", "id": "1"}},
	}, nil)
	require.Empty(t, result.Errors)

	data := result.Data.(map[string]any)
	entities := data["_entities"].([]any)
	require.Len(t, entities, 1)
	book := entities[0].(map[string]any)
	require.Equal(t, "Book", book["__typename"])
	require.Equal(t, "Dune", book["title"])
}

func TestServiceResolverReturnsOriginalSDL(t *testing.T) {
	reg := resolve.NewRegistry()
	composed, err := Compose(bookSDL, reg)
	require.NoError(t, err)

	fr := reg.FieldFor("Query", "_service")
	require.NotNil(t, fr)
	v, err := fr(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sdl": composed.ServiceSDL}, v)
	require.Contains(t, composed.ServiceSDL, "extend type Query")
	require.Contains(t, composed.ServiceSDL, `@key(fields: "id")`)
}

func TestServiceSDLRewrites(t *testing.T) {
	in := `schema {
	query: Query
}

type Query {
	ping: String
}

type Mutation {
	pong: String
}
`
	out := serviceSDL(in)
	require.NotContains(t, out, "schema {")
	require.Contains(t, out, "extend type Query {")
	require.Contains(t, out, "extend type Mutation {")
}

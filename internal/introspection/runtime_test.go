package introspection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	executor "github.com/fedgraph/fedgraph/internal/executor"
	language "github.com/fedgraph/fedgraph/internal/language"
	schema "github.com/fedgraph/fedgraph/internal/schema"
)

// noopRuntime is the delegate behind the wrapper; it resolves nothing.
type noopRuntime struct{}

func (noopRuntime) ResolveField(context.Context, string, string, any, map[string]any) (any, error) {
	return nil, nil
}

func (noopRuntime) ResolveType(context.Context, string, any) (string, error) {
	return "", errors.New("no abstract types here")
}

func (noopRuntime) SerializeLeaf(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

const testSDL = `
type Book {
	id: ID!
	title: String!
	subtitle: String @deprecated(reason: "folded into title")
}

type Query {
	book(id: ID!): Book
}
`

func buildSchema(t *testing.T) *schema.Schema {
	t.Helper()
	doc, err := language.ParseSchema("books.graphql", testSDL)
	require.NoError(t, err)
	validated, err := language.ValidateSchemaDocument(doc)
	require.NoError(t, err)
	return schema.BuildFromAST(validated)
}

func execute(t *testing.T, query string) *executor.ExecutionResult {
	t.Helper()
	wrapper := Wrap(noopRuntime{}, buildSchema(t))
	exec := executor.NewExecutor(wrapper.Runtime, wrapper.Schema)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	return res
}

func TestSchemaQueryType(t *testing.T) {
	res := execute(t, `{ __schema { queryType { name kind } } }`)
	data := res.Data.(map[string]any)
	qt := data["__schema"].(map[string]any)["queryType"].(map[string]any)
	require.Equal(t, "Query", qt["name"])
	require.Equal(t, "OBJECT", qt["kind"])
}

func TestSchemaValidatesAndExecutes(t *testing.T) {
	// The validation schema accepts the meta fields, so a full round trip
	// through parse, validate and execute works on a user-defined SDL.
	sch := buildSchema(t)
	doc, err := language.ParseSchema("books.graphql", testSDL)
	require.NoError(t, err)
	validation, err := language.ValidateSchemaDocument(doc)
	require.NoError(t, err)

	query, err := language.ParseQuery(`{ __schema { queryType { name } } }`)
	require.NoError(t, err)
	require.Empty(t, language.ValidateQuery(validation, query))

	wrapper := Wrap(noopRuntime{}, sch)
	res := executor.NewExecutor(wrapper.Runtime, wrapper.Schema).
		ExecuteRequest(context.Background(), query, "", nil, nil)
	require.Empty(t, res.Errors)
}

func TestTypeByName(t *testing.T) {
	res := execute(t, `{
		__type(name: "Book") {
			name
			kind
			fields { name type { kind name ofType { kind name } } }
		}
	}`)
	data := res.Data.(map[string]any)
	book := data["__type"].(map[string]any)
	require.Equal(t, "Book", book["name"])
	require.Equal(t, "OBJECT", book["kind"])

	fields := book["fields"].([]any)
	var names []string
	for _, f := range fields {
		names = append(names, f.(map[string]any)["name"].(string))
	}
	// Deprecated fields stay hidden by default.
	require.Equal(t, []string{"id", "title"}, names)

	id := fields[0].(map[string]any)["type"].(map[string]any)
	require.Equal(t, "NON_NULL", id["kind"])
	require.Nil(t, id["name"])
	inner := id["ofType"].(map[string]any)
	require.Equal(t, "SCALAR", inner["kind"])
	require.Equal(t, "ID", inner["name"])
}

func TestFieldsIncludeDeprecated(t *testing.T) {
	res := execute(t, `{
		__type(name: "Book") {
			fields(includeDeprecated: true) { name isDeprecated deprecationReason }
		}
	}`)
	data := res.Data.(map[string]any)
	fields := data["__type"].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 3)
	subtitle := fields[2].(map[string]any)
	require.Equal(t, "subtitle", subtitle["name"])
	require.Equal(t, true, subtitle["isDeprecated"])
	require.Equal(t, "folded into title", subtitle["deprecationReason"])
}

func TestFieldArguments(t *testing.T) {
	res := execute(t, `{
		__type(name: "Query") {
			fields { name args { name type { kind ofType { name } } } }
		}
	}`)
	data := res.Data.(map[string]any)
	fields := data["__type"].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 1)
	book := fields[0].(map[string]any)
	require.Equal(t, "book", book["name"])
	args := book["args"].([]any)
	require.Len(t, args, 1)
	arg := args[0].(map[string]any)
	require.Equal(t, "id", arg["name"])
	argType := arg["type"].(map[string]any)
	require.Equal(t, "NON_NULL", argType["kind"])
	require.Equal(t, "ID", argType["ofType"].(map[string]any)["name"])
}

func TestMetaFieldsStayOutOfReportedFields(t *testing.T) {
	// __schema and __type are reachable but never listed on the query type.
	res := execute(t, `{ __schema { queryType { fields { name } } } }`)
	data := res.Data.(map[string]any)
	fields := data["__schema"].(map[string]any)["queryType"].(map[string]any)["fields"].([]any)
	for _, f := range fields {
		require.NotContains(t, f.(map[string]any)["name"], "__")
	}
}

func TestUnknownTypeIsNull(t *testing.T) {
	res := execute(t, `{ __type(name: "Nope") { name } }`)
	data := res.Data.(map[string]any)
	require.Nil(t, data["__type"])
}

func TestSchemaTypesAndDirectives(t *testing.T) {
	res := execute(t, `{ __schema { types { name } directives { name locations } } }`)
	data := res.Data.(map[string]any)
	schemaData := data["__schema"].(map[string]any)

	var typeNames []string
	for _, tp := range schemaData["types"].([]any) {
		typeNames = append(typeNames, tp.(map[string]any)["name"].(string))
	}
	require.Contains(t, typeNames, "Book")
	require.Contains(t, typeNames, "Query")
	require.Contains(t, typeNames, "String")

	var directiveNames []string
	for _, d := range schemaData["directives"].([]any) {
		directiveNames = append(directiveNames, d.(map[string]any)["name"].(string))
	}
	require.Contains(t, directiveNames, "deprecated")
	require.Contains(t, directiveNames, "include")
}

func TestNonMetaFieldsDelegate(t *testing.T) {
	res := execute(t, `{ book(id: "1") { id } }`)
	data := res.Data.(map[string]any)
	require.Nil(t, data["book"])
}

func TestTypenameWithoutWrapper(t *testing.T) {
	sch := buildSchema(t)
	doc, err := language.ParseQuery(`{ __typename }`)
	require.NoError(t, err)
	res := executor.NewExecutor(noopRuntime{}, sch).
		ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"__typename": "Query"}, res.Data)
}

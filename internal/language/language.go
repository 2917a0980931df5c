package language

import (
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

var preludeOnce = sync.OnceValues(func() (*SchemaDocument, error) {
	return parser.ParseSchema(validator.Prelude)
})

// ValidateSchemaDocument resolves and validates a full schema document,
// returning the queryable schema. The standard prelude (built-in scalars,
// directives and introspection types) is merged in before validation so
// documents may reference ID, String, @deprecated and friends without
// declaring them.
func ValidateSchemaDocument(doc *SchemaDocument) (*Schema, error) {
	prelude, err := preludeOnce()
	if err != nil {
		return nil, err
	}
	merged := &SchemaDocument{}
	merged.Merge(prelude)
	merged.Merge(doc)
	schema, err := validator.ValidateSchemaDocument(merged)
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// ValidateQuery validates a parsed query against the schema. The returned
// errors are GraphQL-shaped and safe to serialize into a response.
func ValidateQuery(schema *Schema, doc *QueryDocument) []*Error {
	errs := validator.Validate(schema, doc)
	out := make([]*Error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

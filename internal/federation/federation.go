// Package federation turns a locally defined schema into a federation
// subgraph: it resolves type extensions against their (possibly remote)
// targets, collects entity types into the _Entity union and installs the
// _entities and _service contract fields.
package federation

import (
	"fmt"
	"sort"
	"strings"

	language "github.com/fedgraph/fedgraph/internal/language"
	resolve "github.com/fedgraph/fedgraph/internal/resolve"
	schema "github.com/fedgraph/fedgraph/internal/schema"
)

// Composed is the result of federating a schema.
type Composed struct {
	// Schema is the executable schema served by the pipeline.
	Schema *schema.Schema
	// Validation is the resolved schema used for query validation.
	Validation *language.Schema
	// SDL is the rendered federated schema, deterministically sorted.
	SDL string
	// ServiceSDL is what _service { sdl } returns: the original schema
	// text with owned root types rewritten as extensions.
	ServiceSDL string
	// EntityTypes lists the object types collected into _Entity, sorted.
	EntityTypes []string
}

// CompositionError aggregates every validation failure found while
// composing. Composition never proceeds with a partially valid schema.
type CompositionError struct {
	Errors []error
}

func (e *CompositionError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "schema composition failed: " + strings.Join(msgs, "; ")
}

// Compose federates the given SDL and wires the contract resolvers into
// registry. It is a startup-time operation: any failure is fatal for the
// caller.
func Compose(sdl string, registry *resolve.Registry) (*Composed, error) {
	doc, err := language.ParseSchema("schema.graphql", sdl)
	if err != nil {
		return nil, &CompositionError{Errors: []error{err}}
	}
	base, err := language.ParseSchema("federation.graphql", baseSDL)
	if err != nil {
		return nil, err
	}

	primaries, extensions := partition(doc)

	var errs []error
	primaryByName := make(map[string]*language.Definition)
	for _, d := range primaries {
		if prev, dup := primaryByName[d.Name]; dup {
			errs = append(errs, fmt.Errorf("type %q is defined more than once (%s and %s)", d.Name, prev.Kind, d.Kind))
			continue
		}
		primaryByName[d.Name] = d
	}

	// Extension fragments whose target is owned by another subgraph get
	// a stub definition of the matching kind to attach to.
	var stubs []*language.Definition
	stubByName := make(map[string]*language.Definition)
	for _, ext := range extensions {
		if prim, ok := primaryByName[ext.Name]; ok {
			if prim.Kind != ext.Kind {
				errs = append(errs, fmt.Errorf("cannot extend %s %q with a %s fragment", prim.Kind, ext.Name, ext.Kind))
			}
			continue
		}
		if stub, ok := stubByName[ext.Name]; ok {
			if stub.Kind != ext.Kind {
				errs = append(errs, fmt.Errorf("conflicting extension kinds for %q: %s and %s", ext.Name, stub.Kind, ext.Kind))
			}
			continue
		}
		stub := &language.Definition{Kind: ext.Kind, Name: ext.Name}
		stubByName[ext.Name] = stub
		stubs = append(stubs, stub)
	}
	if len(errs) > 0 {
		return nil, &CompositionError{Errors: errs}
	}

	entityNames := collectEntityNames(primaries, extensions)

	hasQuery := primaryByName["Query"] != nil || stubByName["Query"] != nil
	contract, err := language.ParseSchema("federation-contract.graphql", contractSDL(entityNames, hasQuery))
	if err != nil {
		return nil, err
	}

	merged := &language.SchemaDocument{}
	merged.Definitions = append(merged.Definitions, base.Definitions...)
	merged.Directives = append(merged.Directives, base.Directives...)
	merged.Definitions = append(merged.Definitions, contract.Definitions...)
	merged.Extensions = append(merged.Extensions, contract.Extensions...)
	merged.Definitions = append(merged.Definitions, stubs...)
	merged.Definitions = append(merged.Definitions, primaries...)
	merged.Extensions = append(merged.Extensions, extensions...)
	merged.Directives = append(merged.Directives, doc.Directives...)
	merged.Schema = append(merged.Schema, doc.Schema...)
	merged.SchemaExtension = append(merged.SchemaExtension, doc.SchemaExtension...)

	validated, err := language.ValidateSchemaDocument(merged)
	if err != nil {
		return nil, &CompositionError{Errors: []error{err}}
	}

	executable := schema.BuildFromAST(validated)
	composed := &Composed{
		Schema:      executable,
		Validation:  validated,
		SDL:         schema.Render(executable),
		ServiceSDL:  serviceSDL(sdl),
		EntityTypes: entityNames,
	}
	installContractResolvers(registry, composed)
	return composed, nil
}

// partition splits the document's top-level definitions into primary
// definitions and extension fragments. A fragment is either a native
// "extend type" form or a definition marked @extends.
func partition(doc *language.SchemaDocument) (primaries, extensions []*language.Definition) {
	for _, d := range doc.Definitions {
		if d.Directives.ForName("extends") != nil {
			extensions = append(extensions, d)
			continue
		}
		primaries = append(primaries, d)
	}
	extensions = append(extensions, doc.Extensions...)
	return primaries, extensions
}

// collectEntityNames lists the object types carrying a @key directive,
// deduplicated and sorted.
func collectEntityNames(primaries, extensions []*language.Definition) []string {
	set := make(map[string]struct{})
	for _, group := range [][]*language.Definition{primaries, extensions} {
		for _, d := range group {
			if d.Kind != language.Object {
				continue
			}
			if d.Directives.ForName("key") != nil {
				set[d.Name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// contractSDL renders the generated part of the subgraph contract: the
// _Entity union over the entity types, the Query contract fields, and an
// empty Query shell when the schema defines none of its own.
func contractSDL(entityNames []string, hasQuery bool) string {
	var b strings.Builder
	if !hasQuery {
		b.WriteString("type Query\n")
	}
	if len(entityNames) > 0 {
		b.WriteString("union _Entity = ")
		b.WriteString(strings.Join(entityNames, " | "))
		b.WriteString("\n")
		b.WriteString("extend type Query {\n\t_entities(representations: [_Any!]!): [_Entity]!\n}\n")
	}
	b.WriteString("extend type Query {\n\t_service: _Service!\n}\n")
	return b.String()
}

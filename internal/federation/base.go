package federation

// baseSDL declares the subgraph contract types and the federation
// directives. Directives that extensions legitimately repeat across
// subgraphs are declared repeatable so merged definitions stay valid.
const baseSDL = `
scalar _Any
scalar _FieldSet

type _Service {
	sdl: String!
}

directive @external repeatable on FIELD_DEFINITION
directive @requires(fields: _FieldSet!) repeatable on FIELD_DEFINITION
directive @provides(fields: _FieldSet!) repeatable on FIELD_DEFINITION
directive @key(fields: _FieldSet!) repeatable on OBJECT | INTERFACE
directive @extends repeatable on OBJECT | INTERFACE
`

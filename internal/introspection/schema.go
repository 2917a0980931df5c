package introspection

import (
	schema "github.com/fedgraph/fedgraph/internal/schema"
)

// extendSchema returns a copy of sch whose query type additionally exposes
// the __schema and __type meta fields, and whose type map contains the
// introspection model. Schemas built from a validated document already
// carry the model types from the prelude; they are added only when absent.
func extendSchema(sch *schema.Schema) *schema.Schema {
	out := *sch
	out.Types = make(map[string]*schema.Type, len(sch.Types)+8)
	for name, t := range sch.Types {
		out.Types[name] = t
	}
	for _, t := range modelTypes() {
		if _, ok := out.Types[t.Name]; !ok {
			out.Types[t.Name] = t
		}
	}

	query := sch.GetQueryType()
	if query == nil {
		return &out
	}
	qc := *query
	qc.Fields = append(append([]*schema.Field{}, query.Fields...),
		&schema.Field{
			Name: "__schema",
			Type: nonNull(named("__Schema")),
		},
		&schema.Field{
			Name: "__type",
			Type: named("__Type"),
			Arguments: []*schema.InputValue{
				{Name: "name", Type: nonNull(named("String"))},
			},
		},
	)
	out.Types[sch.QueryType] = &qc
	return &out
}

func named(n string) *schema.TypeRef            { return schema.NamedType(n) }
func nonNull(t *schema.TypeRef) *schema.TypeRef { return schema.NonNullType(t) }
func listOf(t *schema.TypeRef) *schema.TypeRef  { return schema.ListType(t) }

func includeDeprecatedArg() *schema.InputValue {
	return &schema.InputValue{Name: "includeDeprecated", Type: named("Boolean"), DefaultValue: false}
}

func enumValues(names ...string) []*schema.EnumValue {
	out := make([]*schema.EnumValue, len(names))
	for i, n := range names {
		out[i] = &schema.EnumValue{Name: n}
	}
	return out
}

// modelTypes builds the eight types of the introspection model.
func modelTypes() []*schema.Type {
	return []*schema.Type{
		{
			Name: "__Schema",
			Kind: schema.TypeKindObject,
			Fields: []*schema.Field{
				{Name: "description", Type: named("String")},
				{Name: "types", Type: nonNull(listOf(nonNull(named("__Type"))))},
				{Name: "queryType", Type: nonNull(named("__Type"))},
				{Name: "mutationType", Type: named("__Type")},
				{Name: "subscriptionType", Type: named("__Type")},
				{Name: "directives", Type: nonNull(listOf(nonNull(named("__Directive"))))},
			},
		},
		{
			Name: "__Type",
			Kind: schema.TypeKindObject,
			Fields: []*schema.Field{
				{Name: "kind", Type: nonNull(named("__TypeKind"))},
				{Name: "name", Type: named("String")},
				{Name: "description", Type: named("String")},
				{Name: "specifiedByURL", Type: named("String")},
				{Name: "fields", Type: listOf(nonNull(named("__Field"))), Arguments: []*schema.InputValue{includeDeprecatedArg()}},
				{Name: "interfaces", Type: listOf(nonNull(named("__Type")))},
				{Name: "possibleTypes", Type: listOf(nonNull(named("__Type")))},
				{Name: "enumValues", Type: listOf(nonNull(named("__EnumValue"))), Arguments: []*schema.InputValue{includeDeprecatedArg()}},
				{Name: "inputFields", Type: listOf(nonNull(named("__InputValue"))), Arguments: []*schema.InputValue{includeDeprecatedArg()}},
				{Name: "ofType", Type: named("__Type")},
				{Name: "isOneOf", Type: named("Boolean")},
			},
		},
		{
			Name: "__Field",
			Kind: schema.TypeKindObject,
			Fields: []*schema.Field{
				{Name: "name", Type: nonNull(named("String"))},
				{Name: "description", Type: named("String")},
				{Name: "args", Type: nonNull(listOf(nonNull(named("__InputValue")))), Arguments: []*schema.InputValue{includeDeprecatedArg()}},
				{Name: "type", Type: nonNull(named("__Type"))},
				{Name: "isDeprecated", Type: nonNull(named("Boolean"))},
				{Name: "deprecationReason", Type: named("String")},
			},
		},
		{
			Name: "__InputValue",
			Kind: schema.TypeKindObject,
			Fields: []*schema.Field{
				{Name: "name", Type: nonNull(named("String"))},
				{Name: "description", Type: named("String")},
				{Name: "type", Type: nonNull(named("__Type"))},
				{Name: "defaultValue", Type: named("String")},
				{Name: "isDeprecated", Type: nonNull(named("Boolean"))},
				{Name: "deprecationReason", Type: named("String")},
			},
		},
		{
			Name: "__EnumValue",
			Kind: schema.TypeKindObject,
			Fields: []*schema.Field{
				{Name: "name", Type: nonNull(named("String"))},
				{Name: "description", Type: named("String")},
				{Name: "isDeprecated", Type: nonNull(named("Boolean"))},
				{Name: "deprecationReason", Type: named("String")},
			},
		},
		{
			Name: "__Directive",
			Kind: schema.TypeKindObject,
			Fields: []*schema.Field{
				{Name: "name", Type: nonNull(named("String"))},
				{Name: "description", Type: named("String")},
				{Name: "locations", Type: nonNull(listOf(nonNull(named("__DirectiveLocation"))))},
				{Name: "args", Type: nonNull(listOf(nonNull(named("__InputValue")))), Arguments: []*schema.InputValue{includeDeprecatedArg()}},
				{Name: "isRepeatable", Type: nonNull(named("Boolean"))},
			},
		},
		{
			Name: "__TypeKind",
			Kind: schema.TypeKindEnum,
			EnumValues: enumValues(
				"SCALAR", "OBJECT", "INTERFACE", "UNION", "ENUM", "INPUT_OBJECT", "LIST", "NON_NULL",
			),
		},
		{
			Name: "__DirectiveLocation",
			Kind: schema.TypeKindEnum,
			EnumValues: enumValues(
				"QUERY", "MUTATION", "SUBSCRIPTION", "FIELD",
				"FRAGMENT_DEFINITION", "FRAGMENT_SPREAD", "INLINE_FRAGMENT", "VARIABLE_DEFINITION",
				"SCHEMA", "SCALAR", "OBJECT", "FIELD_DEFINITION", "ARGUMENT_DEFINITION",
				"INTERFACE", "UNION", "ENUM", "ENUM_VALUE", "INPUT_OBJECT", "INPUT_FIELD_DEFINITION",
			),
		},
	}
}

package schema

import (
	"sort"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// BuildFromAST converts a validated gqlparser schema into the executable
// schema model. Type extensions are already merged into their base
// definitions by validation, so this is a straight structural mapping plus
// extraction of federation metadata (@key field sets).
func BuildFromAST(sch *ast.Schema) *Schema {
	s := &Schema{
		Types:       make(map[string]*Type, len(sch.Types)),
		Directives:  make(map[string]*Directive, len(sch.Directives)),
		Description: sch.Description,
	}
	if sch.Query != nil {
		s.QueryType = sch.Query.Name
	}
	if sch.Mutation != nil {
		s.MutationType = sch.Mutation.Name
	}
	if sch.Subscription != nil {
		s.SubscriptionType = sch.Subscription.Name
	}

	for name, def := range sch.Types {
		t := buildType(def)
		if possible := sch.PossibleTypes[name]; len(possible) > 0 && t.Kind == TypeKindInterface {
			for _, p := range possible {
				t.PossibleTypes = append(t.PossibleTypes, p.Name)
			}
			sort.Strings(t.PossibleTypes)
		}
		s.Types[name] = t
	}
	for name, dir := range sch.Directives {
		s.Directives[name] = buildDirective(dir)
	}
	return s
}

func buildType(def *ast.Definition) *Type {
	t := &Type{
		Name:        def.Name,
		Description: def.Description,
	}
	switch def.Kind {
	case ast.Scalar:
		t.Kind = TypeKindScalar
		if sb := def.Directives.ForName("specifiedBy"); sb != nil {
			if arg := sb.Arguments.ForName("url"); arg != nil {
				url := arg.Value.Raw
				t.SpecifiedByURL = &url
			}
		}
	case ast.Object, ast.Interface:
		if def.Kind == ast.Object {
			t.Kind = TypeKindObject
		} else {
			t.Kind = TypeKindInterface
		}
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		for _, f := range def.Fields {
			if isIntrospectionName(f.Name) {
				continue
			}
			t.Fields = append(t.Fields, buildField(f))
		}
		for _, key := range def.Directives.ForNames("key") {
			if arg := key.Arguments.ForName("fields"); arg != nil {
				t.Keys = append(t.Keys, arg.Value.Raw)
			}
		}
	case ast.Union:
		t.Kind = TypeKindUnion
		t.PossibleTypes = append(t.PossibleTypes, def.Types...)
	case ast.Enum:
		t.Kind = TypeKindEnum
		for _, v := range def.EnumValues {
			t.EnumValues = append(t.EnumValues, buildEnumValue(v))
		}
	case ast.InputObject:
		t.Kind = TypeKindInputObject
		t.OneOf = def.Directives.ForName("oneOf") != nil
		for _, f := range def.Fields {
			t.InputFields = append(t.InputFields, buildInputField(f))
		}
	}
	return t
}

func buildField(def *ast.FieldDefinition) *Field {
	f := &Field{
		Name:        def.Name,
		Description: def.Description,
		Type:        buildTypeRef(def.Type),
	}
	for _, arg := range def.Arguments {
		f.Arguments = append(f.Arguments, &InputValue{
			Name:         arg.Name,
			Description:  arg.Description,
			Type:         buildTypeRef(arg.Type),
			DefaultValue: valueToGo(arg.DefaultValue),
		})
	}
	if dep := def.Directives.ForName("deprecated"); dep != nil {
		f.IsDeprecated = true
		if reason := dep.Arguments.ForName("reason"); reason != nil {
			f.DeprecationReason = reason.Value.Raw
		}
	}
	return f
}

func buildInputField(def *ast.FieldDefinition) *InputValue {
	in := &InputValue{
		Name:         def.Name,
		Description:  def.Description,
		Type:         buildTypeRef(def.Type),
		DefaultValue: valueToGo(def.DefaultValue),
	}
	if dep := def.Directives.ForName("deprecated"); dep != nil {
		in.IsDeprecated = true
		if reason := dep.Arguments.ForName("reason"); reason != nil {
			in.DeprecationReason = reason.Value.Raw
		}
	}
	return in
}

func buildEnumValue(def *ast.EnumValueDefinition) *EnumValue {
	e := &EnumValue{Name: def.Name, Description: def.Description}
	if dep := def.Directives.ForName("deprecated"); dep != nil {
		e.IsDeprecated = true
		if reason := dep.Arguments.ForName("reason"); reason != nil {
			e.DeprecationReason = reason.Value.Raw
		}
	}
	return e
}

func buildDirective(def *ast.DirectiveDefinition) *Directive {
	d := &Directive{
		Name:         def.Name,
		Description:  def.Description,
		IsRepeatable: def.IsRepeatable,
	}
	for _, loc := range def.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range def.Arguments {
		d.Arguments = append(d.Arguments, &InputValue{
			Name:         arg.Name,
			Description:  arg.Description,
			Type:         buildTypeRef(arg.Type),
			DefaultValue: valueToGo(arg.DefaultValue),
		})
	}
	return d
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.NamedType != "" {
		ref = NamedType(t.NamedType)
	} else {
		ref = ListType(buildTypeRef(t.Elem))
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

// valueToGo converts a constant AST value (default values) into a Go value.
func valueToGo(v *ast.Value) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case ast.IntValue:
		iv, _ := strconv.Atoi(v.Raw)
		return iv
	case ast.FloatValue:
		fv, _ := strconv.ParseFloat(v.Raw, 64)
		return fv
	case ast.StringValue, ast.BlockValue, ast.EnumValue:
		return v.Raw
	case ast.BooleanValue:
		return v.Raw == "true"
	case ast.NullValue:
		return nil
	case ast.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = valueToGo(c.Value)
		}
		return out
	case ast.ObjectValue:
		m := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			m[c.Name] = valueToGo(c.Value)
		}
		return m
	default:
		return nil
	}
}

func isIntrospectionName(name string) bool {
	return len(name) >= 2 && name[0] == '_' && name[1] == '_'
}

var builtinTypeNames = map[string]struct{}{
	"String": {}, "Int": {}, "Float": {}, "Boolean": {}, "ID": {},
	"__Schema": {}, "__Type": {}, "__TypeKind": {}, "__Field": {},
	"__InputValue": {}, "__EnumValue": {}, "__Directive": {}, "__DirectiveLocation": {},
}

var builtinDirectiveNames = map[string]struct{}{
	"include": {}, "skip": {}, "deprecated": {}, "specifiedBy": {}, "defer": {}, "oneOf": {},
}

// IsBuiltinType reports whether name belongs to the GraphQL prelude rather
// than the service's own definitions.
func IsBuiltinType(name string) bool {
	_, ok := builtinTypeNames[name]
	return ok
}

// IsBuiltinDirective reports whether the directive comes from the prelude.
func IsBuiltinDirective(name string) bool {
	_, ok := builtinDirectiveNames[name]
	return ok
}

// Package introspection answers the __schema and __type meta fields by
// reflecting over the executable schema. Wrapping is opt-in: a subgraph
// that leaves it off rejects introspection queries at execution time.
package introspection

import (
	"context"
	"fmt"
	"sort"

	executor "github.com/fedgraph/fedgraph/internal/executor"
	schema "github.com/fedgraph/fedgraph/internal/schema"
)

// Wrapper bundles a runtime that resolves introspection values with the
// schema extended by the meta fields backing them. Pass both to the
// executor (or the server) together.
type Wrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap layers introspection over base. Meta fields and the introspection
// model resolve here; every other field delegates to base unchanged.
func Wrap(base executor.Runtime, sch *schema.Schema) *Wrapper {
	return &Wrapper{
		Runtime: &runtime{base: base, sch: sch},
		Schema:  extendSchema(sch),
	}
}

type runtime struct {
	base executor.Runtime
	sch  *schema.Schema // the schema introspection reports, without meta fields
}

func (r *runtime) ResolveField(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *schema.Schema:
		return r.resolveSchemaField(src, field), nil
	case *schema.Type:
		return r.resolveTypeField(src, field, args), nil
	case *schema.TypeRef:
		return r.resolveTypeRefField(src, field, args), nil
	case *schema.Field:
		return r.resolveFieldField(src, field, args), nil
	case *schema.InputValue:
		return resolveInputValueField(src, field), nil
	case *schema.EnumValue:
		return resolveEnumValueField(src, field), nil
	case *schema.Directive:
		return resolveDirectiveField(src, field, args), nil
	}

	if objectType == r.sch.QueryType {
		switch field {
		case "__schema":
			return r.sch, nil
		case "__type":
			name, _ := args["name"].(string)
			if t, ok := r.sch.Types[name]; ok {
				return t, nil
			}
			return nil, nil
		}
	}
	return r.base.ResolveField(ctx, objectType, field, source, args)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeaf(ctx context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case "__TypeKind", "__DirectiveLocation":
		return value, nil
	}
	return r.base.SerializeLeaf(ctx, typeName, value)
}

func (r *runtime) resolveSchemaField(sch *schema.Schema, field string) any {
	switch field {
	case "description":
		return nullableString(sch.Description)
	case "types":
		names := make([]string, 0, len(sch.Types))
		for name := range sch.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = sch.Types[name]
		}
		return out
	case "queryType":
		return sch.GetQueryType()
	case "mutationType":
		return sch.GetMutationType()
	case "subscriptionType":
		return sch.GetSubscriptionType()
	case "directives":
		names := make([]string, 0, len(sch.Directives))
		for name := range sch.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = sch.Directives[name]
		}
		return out
	}
	return nil
}

func (r *runtime) resolveTypeField(t *schema.Type, field string, args map[string]any) any {
	switch field {
	case "kind":
		return string(t.Kind)
	case "name":
		return t.Name
	case "description":
		return nullableString(t.Description)
	case "specifiedByURL":
		if t.SpecifiedByURL != nil {
			return *t.SpecifiedByURL
		}
		return nil
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil
		}
		include := boolArg(args, "includeDeprecated")
		out := make([]any, 0, len(t.Fields))
		for _, f := range t.Fields {
			if f.IsDeprecated && !include {
				continue
			}
			out = append(out, f)
		}
		return out
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil
		}
		return r.typesByName(t.Interfaces)
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil
		}
		return r.typesByName(t.PossibleTypes)
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil
		}
		include := boolArg(args, "includeDeprecated")
		out := make([]any, 0, len(t.EnumValues))
		for _, v := range t.EnumValues {
			if v.IsDeprecated && !include {
				continue
			}
			out = append(out, v)
		}
		return out
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil
		}
		include := boolArg(args, "includeDeprecated")
		out := make([]any, 0, len(t.InputFields))
		for _, in := range t.InputFields {
			if in.IsDeprecated && !include {
				continue
			}
			out = append(out, in)
		}
		return out
	case "isOneOf":
		return t.OneOf
	case "ofType":
		return nil
	}
	return nil
}

// resolveTypeRefField answers __Type fields for a type reference. List and
// non-null wrappers carry only kind and ofType; a named reference behaves
// like the type it names.
func (r *runtime) resolveTypeRefField(tr *schema.TypeRef, field string, args map[string]any) any {
	wrapper := tr.Kind == schema.TypeRefKindList || tr.Kind == schema.TypeRefKindNonNull
	switch field {
	case "kind":
		if wrapper {
			return string(tr.Kind)
		}
	case "name":
		if wrapper {
			return nil
		}
		return tr.Named
	case "ofType":
		if wrapper {
			return tr.OfType
		}
		return nil
	}
	if wrapper {
		return nil
	}
	if def := r.sch.Types[tr.Named]; def != nil {
		return r.resolveTypeField(def, field, args)
	}
	return nil
}

func (r *runtime) resolveFieldField(f *schema.Field, field string, args map[string]any) any {
	switch field {
	case "name":
		return f.Name
	case "description":
		return nullableString(f.Description)
	case "args":
		return filterInputValues(f.Arguments, boolArg(args, "includeDeprecated"))
	case "type":
		return f.Type
	case "isDeprecated":
		return f.IsDeprecated
	case "deprecationReason":
		return nullableString(f.DeprecationReason)
	}
	return nil
}

func resolveInputValueField(in *schema.InputValue, field string) any {
	switch field {
	case "name":
		return in.Name
	case "description":
		return nullableString(in.Description)
	case "type":
		return in.Type
	case "defaultValue":
		if in.DefaultValue == nil {
			return nil
		}
		return fmt.Sprintf("%v", in.DefaultValue)
	case "isDeprecated":
		return in.IsDeprecated
	case "deprecationReason":
		return nullableString(in.DeprecationReason)
	}
	return nil
}

func resolveEnumValueField(v *schema.EnumValue, field string) any {
	switch field {
	case "name":
		return v.Name
	case "description":
		return nullableString(v.Description)
	case "isDeprecated":
		return v.IsDeprecated
	case "deprecationReason":
		return nullableString(v.DeprecationReason)
	}
	return nil
}

func resolveDirectiveField(d *schema.Directive, field string, args map[string]any) any {
	switch field {
	case "name":
		return d.Name
	case "description":
		return nullableString(d.Description)
	case "locations":
		return d.Locations
	case "args":
		return filterInputValues(d.Arguments, boolArg(args, "includeDeprecated"))
	case "isRepeatable":
		return d.IsRepeatable
	}
	return nil
}

func (r *runtime) typesByName(names []string) []any {
	out := make([]any, 0, len(names))
	for _, name := range names {
		if t := r.sch.Types[name]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

func filterInputValues(values []*schema.InputValue, includeDeprecated bool) []any {
	out := make([]any, 0, len(values))
	for _, in := range values {
		if in.IsDeprecated && !includeDeprecated {
			continue
		}
		out = append(out, in)
	}
	return out
}

func boolArg(args map[string]any, name string) bool {
	v, _ := args[name].(bool)
	return v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

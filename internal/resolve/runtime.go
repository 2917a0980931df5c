package resolve

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// TypedValue pairs a resolved value with the name of its concrete object
// type. Resolvers may return it where the schema type is an interface or
// union and the value itself does not carry a __typename.
type TypedValue struct {
	TypeName string
	Value    any
}

// Runtime adapts a Registry to the executor. Fields without a registered
// resolver fall back to property access on the source value.
type Runtime struct {
	registry *Registry
}

func NewRuntime(registry *Registry) *Runtime {
	return &Runtime{registry: registry}
}

func (r *Runtime) ResolveField(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if tv, ok := source.(TypedValue); ok {
		source = tv.Value
	}
	if fr := r.registry.FieldFor(objectType, field); fr != nil {
		return fr(ctx, source, args)
	}
	return defaultFieldValue(source, field)
}

func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if tv, ok := value.(TypedValue); ok && tv.TypeName != "" {
		return tv.TypeName, nil
	}
	if tr := r.registry.TypeFor(abstractType); tr != nil {
		return tr(ctx, value)
	}
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok && name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type for %s value of type %T", abstractType, value)
}

func (r *Runtime) SerializeLeaf(ctx context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case "Boolean":
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot serialize %T as Boolean", value)
	case "String", "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		default:
			return fmt.Sprintf("%v", value), nil
		}
	default:
		// Int, Float, enums and custom scalars pass through; the JSON
		// encoder handles the numeric kinds.
		return value, nil
	}
}

// defaultFieldValue reads field from a map key or an exported struct
// field of the same name (case-insensitive).
func defaultFieldValue(source any, field string) (any, error) {
	if source == nil {
		return nil, nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[field], nil
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, nil
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			if comma := strings.IndexByte(tag, ','); comma >= 0 {
				tag = tag[:comma]
			}
			if tag != "" && tag != "-" {
				name = tag
			}
		}
		if strings.EqualFold(name, field) {
			return rv.Field(i).Interface(), nil
		}
	}
	return nil, nil
}

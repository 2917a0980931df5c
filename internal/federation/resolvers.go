package federation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	resolve "github.com/fedgraph/fedgraph/internal/resolve"
)

// installContractResolvers wires Query._entities and Query._service into
// the registry.
func installContractResolvers(registry *resolve.Registry, composed *Composed) {
	if len(composed.EntityTypes) > 0 {
		registry.Field("Query", "_entities", entitiesResolver(registry))
	}
	registry.Field("Query", "_service", func(ctx context.Context, source any, args map[string]any) (any, error) {
		return map[string]any{"sdl": composed.ServiceSDL}, nil
	})
}

// entitiesResolver dispatches each representation to the reference
// resolver registered for its __typename. Representations of types with
// no registered resolver pass through unchanged, so another subgraph's
// key fields still round-trip. Resolutions run concurrently; the first
// error fails the whole field.
func entitiesResolver(registry *resolve.Registry) resolve.FieldResolver {
	return func(ctx context.Context, source any, args map[string]any) (any, error) {
		reps, ok := args["representations"].([]any)
		if !ok {
			return nil, fmt.Errorf("_entities: representations must be a list")
		}

		out := make([]any, len(reps))
		g, ctx := errgroup.WithContext(ctx)
		for i, rep := range reps {
			g.Go(func() error {
				representation, ok := rep.(map[string]any)
				if !ok {
					return fmt.Errorf("_entities: representation %d is not an object", i)
				}
				typeName, _ := representation["__typename"].(string)
				if typeName == "" {
					return fmt.Errorf("_entities: representation %d is missing __typename", i)
				}

				rr := registry.ReferenceFor(typeName)
				if rr == nil {
					out[i] = resolve.TypedValue{TypeName: typeName, Value: representation}
					return nil
				}
				value, err := rr(ctx, representation)
				if err != nil {
					return err
				}
				out[i] = resolve.TypedValue{TypeName: typeName, Value: value}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Package actor carries the identity responsible for a mutation through a context.
package actor

import "context"

type contextKey struct{}

// Resolver returns the acting identity for ctx. An error or an empty string
// means there is no actor.
type Resolver func(ctx context.Context) (string, error)

// WithID returns a context carrying id as the acting identity.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithID.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// FromContextResolver is the default Resolver. It reads WithID.
func FromContextResolver(ctx context.Context) (string, error) {
	id, _ := FromContext(ctx)
	return id, nil
}

// Resolve applies r and normalizes the result to a nullable identity.
// A nil resolver falls back to FromContextResolver.
func Resolve(ctx context.Context, r Resolver) *string {
	if r == nil {
		r = FromContextResolver
	}
	id, err := r(ctx)
	if err != nil || id == "" {
		return nil
	}
	return &id
}

package api

import (
	"context"
	"errors"

	"github.com/darasahq/darasa-sync/internal/store"
	"github.com/darasahq/darasa-sync/internal/types"
)

// principalContextKey is the context key for the authenticated principal.
type principalContextKey struct{}

// schoolStoreContextKey is the context key for the resolved school store.
type schoolStoreContextKey struct{}

// ErrNoPrincipalInContext indicates no principal was found in the context.
var ErrNoPrincipalInContext = errors.New("no principal in context")

// ErrNoStoreInContext indicates no school store was found in the context.
var ErrNoStoreInContext = errors.New("no school store in context")

// WithPrincipal returns a new context with the principal attached.
func WithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from the context.
// Returns ErrNoPrincipalInContext if not present.
func PrincipalFromContext(ctx context.Context) (types.Principal, error) {
	p, ok := ctx.Value(principalContextKey{}).(types.Principal)
	if !ok || p.UserID == "" {
		return types.Principal{}, ErrNoPrincipalInContext
	}
	return p, nil
}

// MustPrincipalFromContext extracts the principal or panics.
// Use only when middleware guarantees principal presence.
func MustPrincipalFromContext(ctx context.Context) types.Principal {
	p, err := PrincipalFromContext(ctx)
	if err != nil {
		panic("principal not in context: middleware misconfiguration")
	}
	return p
}

// WithSchoolStore returns a new context with the school store attached.
func WithSchoolStore(ctx context.Context, s store.Store) context.Context {
	return context.WithValue(ctx, schoolStoreContextKey{}, s)
}

// SchoolStoreFromContext extracts the school store from the context.
// Returns ErrNoStoreInContext if not present or nil.
func SchoolStoreFromContext(ctx context.Context) (store.Store, error) {
	s, ok := ctx.Value(schoolStoreContextKey{}).(store.Store)
	if !ok || s == nil {
		return nil, ErrNoStoreInContext
	}
	return s, nil
}

// MustSchoolStoreFromContext extracts the school store or panics.
// Use only when middleware guarantees store presence.
func MustSchoolStoreFromContext(ctx context.Context) store.Store {
	s, err := SchoolStoreFromContext(ctx)
	if err != nil {
		panic("school store not in context: middleware misconfiguration")
	}
	return s
}

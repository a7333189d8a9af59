package yggdrasil

import (
	"context"
	"regexp"
)

// uuidPattern matches the 8-4-4-4-12 hexadecimal UUID lexical form,
// case-insensitive.
var uuidPattern = regexp.MustCompile(`(?i)^[a-f0-9]{8}-([a-f0-9]{4}-){3}[a-f0-9]{12}$`)

// IsUUID reports whether the reference is already in canonical UUID form.
func IsUUID(reference string) bool {
	return uuidPattern.MatchString(reference)
}

// Lookup is the external capability surface the resolver depends on. *Client
// implements it against the auth server; tests substitute fakes.
type Lookup interface {
	NameToUUID(ctx context.Context, name string) (string, error)
	SkinURL(ctx context.Context, identifier string) (string, error)
}

// Resolver turns player references into canonical identifiers and skin source
// URLs. It performs no retries; fallback policy belongs to the orchestrator.
type Resolver struct {
	lookup Lookup
}

// NewResolver wraps the lookup capability.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the canonical UUID for a player reference. References
// already in UUID form are returned unchanged without a network call.
func (r *Resolver) Resolve(ctx context.Context, reference string) (string, error) {
	if IsUUID(reference) {
		return reference, nil
	}
	return r.lookup.NameToUUID(ctx, reference)
}

// SkinURL returns the source image URL for a canonical identifier.
func (r *Resolver) SkinURL(ctx context.Context, identifier string) (string, error) {
	return r.lookup.SkinURL(ctx, identifier)
}

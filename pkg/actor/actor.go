// Package actor provides a universal pattern for identifying the caller
// performing actions against the supply service.
//
// Authentication happens upstream at the API gateway; by the time a request
// reaches this service the caller's identity and role have been resolved and
// forwarded as headers. This package turns those headers into a typed Actor
// carried through context, used for:
// - order ownership (who placed / who may dispatch)
// - consumption log attribution
// - audit fields on stock movements
package actor

import (
	"context"
	"fmt"
	"net/http"
)

// Kind classifies the organization the caller acts for.
type Kind string

const (
	KindVendor   Kind = "vendor"
	KindHospital Kind = "hospital"
	KindPharmacy Kind = "pharmacy"
)

// IsRequester reports whether the kind places orders (as opposed to
// fulfilling them).
func (k Kind) IsRequester() bool {
	return k == KindHospital || k == KindPharmacy
}

// Valid reports whether the kind is one of the known roles.
func (k Kind) Valid() bool {
	switch k {
	case KindVendor, KindHospital, KindPharmacy:
		return true
	}
	return false
}

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user or organization account ID)
	ID string `json:"id"`

	// Organization is the display name of the actor's organization
	Organization string `json:"organization"`

	// Email is the actor's email address
	Email string `json:"email,omitempty"`

	// Kind is the actor's role in the supply chain
	Kind Kind `json:"kind"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Organization, a.Kind)
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if a, ok := ctx.Value(actorContextKey).(*Actor); ok {
		return a
	}
	return nil
}

// WithActor returns a context with the actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

// FromHeaders builds an Actor from gateway-forwarded identity headers.
// Returns nil if no identity headers are present.
func FromHeaders(r *http.Request) *Actor {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return nil
	}
	return &Actor{
		ID:           id,
		Organization: r.Header.Get("X-Organization"),
		Email:        r.Header.Get("X-User-Email"),
		Kind:         Kind(r.Header.Get("X-User-Role")),
	}
}

// Middleware extracts the caller identity from gateway headers and attaches
// it to the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := FromHeaders(r); a != nil {
			r = r.WithContext(WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

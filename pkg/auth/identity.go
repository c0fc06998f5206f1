// Package auth carries caller identity through requests. Identity is
// supplied by an external provider via headers and trusted as-is; this
// service does not re-verify it.
package auth

import (
	"context"
	"net/http"
	"strings"

	"biocollab/pkg/models"
)

type ctxIdentityKey struct{}

// Identity is the opaque scientist identity and role hint attached to a
// request by the identity provider.
type Identity struct {
	ScientistID string
	Role        models.Role
	DisplayName string
}

// FromHeaders extracts the identity headers from a request. ScientistID is
// empty when the provider supplied none.
func FromHeaders(r *http.Request) Identity {
	id := Identity{
		ScientistID: strings.TrimSpace(r.Header.Get("X-Scientist-Id")),
		DisplayName: strings.TrimSpace(r.Header.Get("X-Display-Name")),
	}
	if role := models.Role(strings.TrimSpace(r.Header.Get("X-Role-Name"))); role.Valid() {
		id.Role = role
	}
	return id
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFromContext returns the identity set by the middleware, or a zero
// Identity when none was attached.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxIdentityKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

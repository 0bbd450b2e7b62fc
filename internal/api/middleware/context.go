package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const ownerKey contextKey = "owner"

// SetOwner stores the authenticated caller's subject in the context.
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// GetOwner returns the authenticated caller's subject.
func GetOwner(r *http.Request) (string, bool) {
	owner, ok := r.Context().Value(ownerKey).(string)
	return owner, ok
}

package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal snapshot to the
// context for the remainder of the request.
func ContextWithPrincipal(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &snap)
}

// PrincipalFromContext extracts the authenticated principal snapshot, if any.
func PrincipalFromContext(ctx context.Context) (Snapshot, bool) {
	if ctx == nil {
		return Snapshot{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Snapshot)
	if !ok || v == nil {
		return Snapshot{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	snap, ok := PrincipalFromContext(ctx)
	if !ok || snap.ID == "" {
		return "", false
	}
	return snap.ID, true
}

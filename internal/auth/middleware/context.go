package auth

import "context"

// Via records how a request was authenticated.
type Via string

const (
	ViaSession Via = "session"
	ViaAPIKey  Via = "apikey"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	OwnerID     string
	WorkspaceID string
	Via         Via
}

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok && p.OwnerID != ""
}

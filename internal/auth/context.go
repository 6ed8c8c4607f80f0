package auth

import "context"

// overrideKey is the context key for the per-request override. Unexported so
// only this package can attach or read it.
type overrideKey struct{}

// ContextWithOverride attaches a request's extracted override to the
// context. The HTTP layer calls this before handing the request to the MCP
// handler; tool handlers recover it with OverrideFromContext.
func ContextWithOverride(ctx context.Context, ov *Override) context.Context {
	return context.WithValue(ctx, overrideKey{}, ov)
}

// OverrideFromContext returns the override attached to the context, or nil
// when the request carried none (stdio transport, or no custom headers).
func OverrideFromContext(ctx context.Context) *Override {
	ov, _ := ctx.Value(overrideKey{}).(*Override)
	return ov
}

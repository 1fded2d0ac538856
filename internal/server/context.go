package server

import "context"

type contextKey struct{ name string }

var (
	operatorKey = contextKey{"operator"}
	realmKey    = contextKey{"realm"}
	clientIPKey = contextKey{"client_ip"}
)

// WithOperator returns a context with the authenticated operator identity set.
// Handlers and the audit logger can read these via GetOperator and ClientIP.
func WithOperator(ctx context.Context, operator, realm string) context.Context {
	ctx = context.WithValue(ctx, operatorKey, operator)
	return context.WithValue(ctx, realmKey, realm)
}

// GetOperator returns the operator subject from context and true if set.
func GetOperator(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operatorKey).(string)
	return v, ok
}

// WithClientIP returns a context carrying the request's client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client IP from context, or "" if not set. Used as the
// audit logger's IP extractor.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

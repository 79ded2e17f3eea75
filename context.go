package authclient

import "context"

type currentOriginContextKey struct{}
type correlationIDContextKey struct{}

// WithCurrentOrigin attaches the origin the current request was served from
// (e.g. "http://localhost:5173"). In local and development deployments the
// password-reset redirect is built from it.
func WithCurrentOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, currentOriginContextKey{}, origin)
}

// WithCorrelationID attaches an identifier that is copied onto every audit
// event and log line emitted for the operation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

// CorrelationIDFromContext returns the id set by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(correlationIDContextKey{}).(string)
	return id
}

func currentOriginFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	origin, _ := ctx.Value(currentOriginContextKey{}).(string)
	return origin
}

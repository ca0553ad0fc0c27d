package errors

import (
	"context"

	"github.com/google/uuid"
)

// ctxKey is unexported so nothing outside this package can collide with it.
type ctxKey int

const requestIDKey ctxKey = iota

// GenerateRequestID returns a fresh request ID for correlating logs
// across a single HTTP request.
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID stamps the request ID onto the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID carried by ctx, or "" when
// the context was never stamped.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

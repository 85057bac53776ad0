// Package requestid carries correlation IDs through context: a request ID
// for API calls and a job ID for work executed by the pool, so every log
// line of one publish can be tied together.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type requestKey struct{}
type jobKey struct{}

// New generates a random UUID v4 request ID.
func New() string {
	return uuid.NewString()
}

// WithRequestID returns a copy of ctx with the request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestKey{}).(string)
	return id
}

// WithJobID returns a copy of ctx with the job ID attached.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobKey{}, id)
}

// JobIDFromContext extracts the job ID from ctx. Returns "" if absent.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobKey{}).(string)
	return id
}

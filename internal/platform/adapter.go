// Package platform contains the publishing adapters for each supported
// social network. Adapters surface every failure inside the returned
// JobResult. Callers never see a panic, and which failures warrant a retry
// is decided by the worker, not here.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/KAR2812/CaaS/internal/domain"
)

// ErrInvalidToken marks a credential the platform rejected outright
// (401/403). Callers treat it as terminal; any other validation error is a
// transient check failure and stays retryable.
var ErrInvalidToken = errors.New("invalid or expired access token")

type Adapter interface {
	// Publish posts text on behalf of accessToken and reports the outcome.
	// The result's Error is set (and Success false) on any failure.
	Publish(ctx context.Context, text, accessToken string) domain.JobResult

	// ValidateToken checks that accessToken is currently usable. Returns
	// ErrInvalidToken when the platform rejected the credential, a wrapped
	// error when the check itself failed, nil when the token is good.
	ValidateToken(ctx context.Context, accessToken string) error
}

// Registry is the dispatch table from platform enum to adapter. Variants are
// registered once at startup; a platform without an entry is unsupported.
type Registry map[domain.Platform]Adapter

func (r Registry) Lookup(p domain.Platform) (Adapter, bool) {
	a, ok := r[p]
	return a, ok
}

// failure formats a platform API error into a JobResult the way every
// adapter reports it.
func failure(platform domain.Platform, err error) domain.JobResult {
	return domain.JobResult{
		Success: false,
		Error:   fmt.Sprintf("%s publishing failed: %v", platform, err),
	}
}
